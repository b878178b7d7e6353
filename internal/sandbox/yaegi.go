package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// blockedPackages may not be imported by interpreted code. Prefix matches
// cover subpackages.
var blockedPackages = []string{
	"os/exec",
	"net",
	"syscall",
	"unsafe",
	"plugin",
	"runtime/debug",
}

// YaegiConfig configures the in-process Go interpreter backend
type YaegiConfig struct {
	MaxOutput int
	Blocked   []string
}

// YaegiSandbox interprets Go analysis code in-process. Each session owns its
// own interpreter, so globals persist per task and never leak across tasks.
type YaegiSandbox struct {
	cfg    YaegiConfig
	logger *zap.Logger
}

// NewYaegi creates a YaegiSandbox.
func NewYaegi(cfg YaegiConfig, logger *zap.Logger) *YaegiSandbox {
	if cfg.Blocked == nil {
		cfg.Blocked = blockedPackages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YaegiSandbox{cfg: cfg, logger: logger}
}

// Open creates a fresh interpreter loaded with the standard library symbols.
func (s *YaegiSandbox) Open(ctx context.Context, name string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := &yaegiSession{
		blocked:   s.cfg.Blocked,
		maxOutput: s.cfg.MaxOutput,
		usable:    true,
		logger:    s.logger.With(zap.String("session", name)),
	}
	i := interp.New(interp.Options{
		Stdout: &sess.stdout,
		Stderr: &sess.stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	sess.interp = i
	return sess, nil
}

type yaegiSession struct {
	mu        sync.Mutex
	interp    *interp.Interpreter
	stdout    syncBuffer
	stderr    syncBuffer
	blocked   []string
	maxOutput int
	usable    bool
	closed    bool
	logger    *zap.Logger
}

func (s *yaegiSession) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usable && !s.closed
}

func (s *yaegiSession) Execute(ctx context.Context, code string, timeout time.Duration) (domain.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ExecutionResult{}, ErrSessionClosed
	}
	if !s.usable {
		return domain.ExecutionResult{}, ErrSessionUnusable
	}

	start := time.Now()
	if bad := blockedImports(code, s.blocked); len(bad) > 0 {
		msg := fmt.Sprintf("forbidden imports detected: %v", bad)
		return domain.ExecutionResult{
			ErrorMessage: msg,
			Traceback:    msg,
			Duration:     time.Since(start),
		}, nil
	}
	if spawns := goroutineSpawns(code); len(spawns) > 0 {
		msg := fmt.Sprintf("goroutines are not supported in analysis cells: %s", strings.Join(spawns, ", "))
		return domain.ExecutionResult{
			ErrorMessage: msg,
			Traceback:    msg,
			Duration:     time.Since(start),
		}, nil
	}

	s.stdout.Reset()
	s.stderr.Reset()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.eval(execCtx, code)

	res := domain.ExecutionResult{
		Duration: time.Since(start),
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// the interpreted goroutine cannot be reclaimed
		s.usable = false
		return domain.ExecutionResult{}, ctx.Err()
	case err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		s.usable = false
		s.logger.Warn("interpreted code overran its deadline; session retired", zap.Duration("timeout", timeout))
		res.Kind = domain.OutcomeTimeout
		res.ErrorMessage = fmt.Sprintf("execution exceeded %s", timeout)
	case err != nil:
		msg := err.Error()
		res.ErrorMessage = firstLine(msg)
		res.Traceback = truncate(msg, s.maxOutput)
	}

	res.Output = truncate(s.stdout.String(), s.maxOutput)
	res.Stderr = truncate(s.stderr.String(), s.maxOutput)
	return res, nil
}

// eval runs one cell, turning interpreter panics into errors. Only printed
// output is reported; the value of the last expression is discarded.
func (s *yaegiSession) eval(ctx context.Context, code string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = s.interp.EvalWithContext(ctx, code)
	return err
}

// goroutineSpawns lists the places in code that would run interpreted code
// on a goroutine of its own. A panic there escapes eval's recover and takes
// the whole process down, so such cells are refused. Cells that do not parse
// are left for the interpreter to report.
func goroutineSpawns(code string) []string {
	fset := token.NewFileSet()
	offset := 1
	f, err := parser.ParseFile(fset, "cell.go", "package main\n"+code, 0)
	if err != nil {
		offset = 2
		f, err = parser.ParseFile(fset, "cell.go", "package main\nfunc _() {\n"+code+"\n}", 0)
		if err != nil {
			return nil
		}
	}
	var found []string
	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.GoStmt:
			found = append(found, fmt.Sprintf("go statement at line %d", fset.Position(n.Pos()).Line-offset))
		case *ast.SelectorExpr:
			if n.Sel.Name == "AfterFunc" {
				found = append(found, fmt.Sprintf("AfterFunc at line %d", fset.Position(n.Pos()).Line-offset))
			}
		}
		return true
	})
	return found
}

func (s *yaegiSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.usable = false
	s.interp = nil
	return nil
}

// blockedImports returns the imports in code that match a blocked prefix.
func blockedImports(code string, blocked []string) []string {
	var found []string
	for _, pkg := range parseImports(code) {
		for _, b := range blocked {
			if pkg == b || strings.HasPrefix(pkg, b+"/") {
				found = append(found, pkg)
				break
			}
		}
	}
	sort.Strings(found)
	return found
}

func parseImports(code string) []string {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := quoted(trimmed); pkg != "" {
				imports = append(imports, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			if pkg := quoted(trimmed); pkg != "" {
				imports = append(imports, pkg)
			}
		}
	}
	return imports
}

// quoted returns the last double-quoted string on the line, which handles
// aliased imports like `m "math"`.
func quoted(line string) string {
	end := strings.LastIndex(line, `"`)
	if end <= 0 {
		return ""
	}
	start := strings.LastIndex(line[:end], `"`)
	if start < 0 {
		return ""
	}
	return line[start+1 : end]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// syncBuffer guards a bytes.Buffer shared with interpreted goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
