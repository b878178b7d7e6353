// Package sandbox runs generated analysis code in persistent, isolated
// interpreter sessions.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var (
	// ErrSessionUnusable is returned once an interpreter has crashed or could
	// not be reclaimed after a timeout. The owning task must be aborted.
	ErrSessionUnusable = errors.New("sandbox session unusable")
	// ErrSessionClosed is returned when executing on a closed session.
	ErrSessionClosed = errors.New("sandbox session closed")
)

// Sandbox hands out sessions. Implementations must be safe for concurrent
// use; the sessions they return are not.
type Sandbox interface {
	Open(ctx context.Context, name string) (Session, error)
}

// Session is a live interpreter bound to one analysis task. Namespace state
// persists across Execute calls on the same session and is never shared.
type Session interface {
	// Execute runs code with a wall-clock limit. A timeout is reported as a
	// result of kind timeout with a nil error. A non-nil error means the
	// session itself failed and Usable will report false.
	Execute(ctx context.Context, code string, timeout time.Duration) (domain.ExecutionResult, error)
	Usable() bool
	Close() error
}

// New builds the sandbox selected by cfg.Backend.
func New(cfg config.SandboxConfig, logger *zap.Logger) (Sandbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "python", "":
		return NewProcess(ProcessConfig{
			Interpreter:    cfg.Interpreter,
			BaseDir:        cfg.WorkDir,
			InterruptGrace: cfg.InterruptGrace.Std(),
			MaxOutput:      cfg.MaxOutputBytes,
		}, logger), nil
	case "yaegi":
		return NewYaegi(YaegiConfig{MaxOutput: cfg.MaxOutputBytes}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// sessionDirName turns a task name into a safe directory component.
func sessionDirName(name string) string {
	s := unsafeName.ReplaceAllString(name, "_")
	if s == "" {
		s = "session"
	}
	return s
}

// truncate caps data at max bytes with a trailing notice.
func truncate(data string, max int) string {
	if max <= 0 || len(data) <= max {
		return data
	}
	return data[:max] + fmt.Sprintf("\n...[Output Truncated, %d bytes total]", len(data))
}
