package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/kirillkom/card-enricher/internal/core/domain"
)

const defaultScriptTimeout = 30 * time.Second

// Sandbox runs renderer scripts in pages of one lazily launched headless browser.
type Sandbox struct {
	bin      string
	headless bool

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	sessions map[string]*rod.Page
}

func NewSandbox(bin string, headless bool) *Sandbox {
	return &Sandbox{
		bin:      bin,
		headless: headless,
		sessions: make(map[string]*rod.Page),
	}
}

func (s *Sandbox) ensureBrowser() (*rod.Browser, error) {
	if s.browser != nil {
		return s.browser, nil
	}

	bin := s.bin
	if bin == "" {
		path, exists := launcher.LookPath()
		if !exists {
			return nil, errors.New("browser executable not found")
		}
		bin = path
	}
	l := launcher.New().Bin(bin).Headless(s.headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	slog.Info("browser_launched", "bin", bin, "headless", s.headless)
	s.launcher = l
	s.browser = browser
	return browser, nil
}

func (s *Sandbox) CreateSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	browser, err := s.ensureBrowser()
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "browser create session", err)
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "browser create session", err)
	}
	id := uuid.NewString()
	s.sessions[id] = page
	slog.Debug("browser_session_created", "session_id", id)
	return id, nil
}

// Execute evaluates req.Code as a function definition and awaits its promise.
// Script failures are reported in the response, not as errors.
func (s *Sandbox) Execute(ctx context.Context, sessionID string, req domain.SandboxRequest) (domain.SandboxResponse, error) {
	page, err := s.session(sessionID)
	if err != nil {
		return domain.SandboxResponse{}, err
	}

	timeout := defaultScriptTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := page.Context(execCtx).Evaluate(rod.Eval(req.Code).ByPromise())
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return domain.SandboxResponse{Success: false, Error: fmt.Sprintf("script timed out after %s", timeout)}, nil
		}
		return domain.SandboxResponse{Success: false, Error: err.Error()}, nil
	}
	if result.Type == proto.RuntimeRemoteObjectTypeString {
		return domain.SandboxResponse{Success: true, Result: result.Value.Str()}, nil
	}
	return domain.SandboxResponse{Success: true, Result: result.Value.JSON("", "")}, nil
}

func (s *Sandbox) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	page, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("close browser session: %w", err)
	}
	return nil
}

func (s *Sandbox) session(id string) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "browser execute", fmt.Errorf("unknown session %q", id))
	}
	return page, nil
}

func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, page := range s.sessions {
		_ = page.Close()
		delete(s.sessions, id)
	}
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	if s.launcher != nil {
		s.launcher.Kill()
	}
	s.browser = nil
	s.launcher = nil
	return err
}
