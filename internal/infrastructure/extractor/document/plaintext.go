package document

import (
	"errors"
	"strings"
	"unicode/utf8"
)

func extractPlain(raw []byte, fileName string) (string, error) {
	if !utf8.Valid(raw) {
		return "", unsupported(fileName, errors.New("binary format"))
	}
	return strings.TrimSpace(string(raw)), nil
}
