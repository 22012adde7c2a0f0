package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

var ErrBlobNotFound = domain.ErrBlobNotFound

// ContentHandle is the hex sha256 of data; equal bytes share one handle.
func ContentHandle(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateHandle rejects anything that is not a content handle, including path fragments.
func ValidateHandle(handle string) error {
	if len(handle) != sha256.Size*2 {
		return domain.WrapError(domain.ErrInvalidInput, "validate blob handle", fmt.Errorf("bad length %d", len(handle)))
	}
	if _, err := hex.DecodeString(handle); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate blob handle", err)
	}
	return nil
}

// PublicURL joins the public base url with the blob read route.
func PublicURL(baseURL, handle string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/blobs/" + handle
}
