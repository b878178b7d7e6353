package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

//go:embed bootstrap/repl.py
var replScript string

const (
	readyMarker    = "___AEA_READY___"
	sentinelPrefix = "___AEA_DONE_"
	sentinelSuffix = "___ "
	startupTimeout = 30 * time.Second
	closeTimeout   = 2 * time.Second
)

// ProcessConfig configures the interpreter subprocess backend
type ProcessConfig struct {
	Interpreter    string
	BaseDir        string
	InterruptGrace time.Duration
	MaxOutput      int
	Env            []string
}

// ProcessSandbox runs each session in its own interpreter process and
// working directory.
type ProcessSandbox struct {
	cfg    ProcessConfig
	logger *zap.Logger
}

// NewProcess creates a ProcessSandbox.
func NewProcess(cfg ProcessConfig, logger *zap.Logger) *ProcessSandbox {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = os.TempDir()
	}
	if cfg.InterruptGrace <= 0 {
		cfg.InterruptGrace = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSandbox{cfg: cfg, logger: logger}
}

// Open starts a fresh interpreter in a new working directory under BaseDir.
func (s *ProcessSandbox) Open(ctx context.Context, name string) (Session, error) {
	dir := filepath.Join(s.cfg.BaseDir, sessionDirName(name)+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	cmd := exec.Command(s.cfg.Interpreter, "-u", "-c", replScript)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	// the work dir goes with any session that never opened
	fail := func(err error) (Session, error) {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("removing session dir", zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("creating stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("creating stdout pipe: %w", err))
	}
	diag := &tailBuffer{max: 8 * 1024}
	cmd.Stderr = diag

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("starting interpreter: %w", err))
	}

	sess := &processSession{
		name:      name,
		dir:       dir,
		cmd:       cmd,
		stdin:     stdin,
		lines:     make(chan string, 64),
		done:      make(chan struct{}),
		diag:      diag,
		grace:     s.cfg.InterruptGrace,
		maxOutput: s.cfg.MaxOutput,
		usable:    true,
		logger:    s.logger.With(zap.String("session", name), zap.Int("pid", cmd.Process.Pid)),
	}
	go sess.readLoop(stdout)

	if err := sess.awaitReady(ctx); err != nil {
		sess.kill()
		return fail(err)
	}
	sess.logger.Debug("interpreter session opened", zap.String("dir", dir))
	return sess, nil
}

type processSession struct {
	mu        sync.Mutex
	name      string
	dir       string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	lines     chan string
	done      chan struct{}
	stopOnce  sync.Once
	diag      *tailBuffer
	grace     time.Duration
	maxOutput int
	usable    bool
	closed    bool
	logger    *zap.Logger
}

// replyPayload is the JSON document following a sentinel line.
type replyPayload struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Error       string `json:"error"`
	Traceback   string `json:"traceback"`
	Interrupted bool   `json:"interrupted"`
}

func (s *processSession) readLoop(r io.Reader) {
	defer close(s.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		}
	}
}

func (s *processSession) awaitReady(ctx context.Context) error {
	timer := time.NewTimer(startupTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return fmt.Errorf("interpreter exited during startup: %s", s.diag.String())
			}
			if line == readyMarker {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("interpreter did not start within %s", startupTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *processSession) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usable && !s.closed
}

func (s *processSession) Execute(ctx context.Context, code string, timeout time.Duration) (domain.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ExecutionResult{}, ErrSessionClosed
	}
	if !s.usable {
		return domain.ExecutionResult{}, ErrSessionUnusable
	}

	before := snapshotDir(s.dir)
	nonce := uuid.NewString()
	req, err := json.Marshal(map[string]string{"id": nonce, "code": code})
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	if _, err := s.stdin.Write(append(req, '\n')); err != nil {
		s.handleCrash()
		return domain.ExecutionResult{}, fmt.Errorf("%w: interpreter died: %v", ErrSessionUnusable, err)
	}

	sentinel := sentinelPrefix + nonce + sentinelSuffix
	var stray strings.Builder
	var reply *replyPayload
	timedOut := false

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	var grace <-chan time.Time

wait:
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				s.handleCrash()
				return domain.ExecutionResult{}, fmt.Errorf("%w: interpreter exited: %s", ErrSessionUnusable, s.diag.String())
			}
			head, payload, found := splitReply(line, sentinel)
			if !found {
				stray.WriteString(line)
				stray.WriteString("\n")
				continue
			}
			stray.WriteString(head)
			reply = &replyPayload{}
			if err := json.Unmarshal([]byte(payload), reply); err != nil {
				s.handleCrash()
				return domain.ExecutionResult{}, fmt.Errorf("%w: malformed reply: %v", ErrSessionUnusable, err)
			}
			break wait
		case <-deadline.C:
			timedOut = true
			s.logger.Info("execution timed out, interrupting", zap.Duration("timeout", timeout))
			s.signal(syscall.SIGINT)
			g := time.NewTimer(s.grace)
			defer g.Stop()
			grace = g.C
		case <-grace:
			s.logger.Warn("interpreter ignored interrupt, killing")
			s.handleCrash()
			return domain.ExecutionResult{
				Kind:         domain.OutcomeTimeout,
				Output:       truncate(stray.String(), s.maxOutput),
				ErrorMessage: fmt.Sprintf("execution exceeded %s", timeout),
				Duration:     time.Since(start),
			}, nil
		case <-ctx.Done():
			s.handleCrash()
			return domain.ExecutionResult{}, ctx.Err()
		}
	}

	res := domain.ExecutionResult{
		Output:       truncate(stray.String()+reply.Stdout, s.maxOutput),
		Stderr:       truncate(reply.Stderr, s.maxOutput),
		ErrorMessage: reply.Error,
		Traceback:    truncate(reply.Traceback, s.maxOutput),
		Artifacts:    diffArtifacts(before, snapshotDir(s.dir)),
		Duration:     time.Since(start),
	}
	if timedOut || reply.Interrupted {
		res.Kind = domain.OutcomeTimeout
		res.ErrorMessage = fmt.Sprintf("execution exceeded %s", timeout)
	}
	return res, nil
}

// splitReply finds the sentinel anywhere on line. Output the cell wrote
// without a trailing newline ends up in front of it and is returned as
// before.
func splitReply(line, sentinel string) (before, payload string, found bool) {
	i := strings.Index(line, sentinel)
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+len(sentinel):], true
}

func (s *processSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.usable = false

	s.stdin.Close()
	exited := make(chan error, 1)
	go func() { exited <- s.cmd.Wait() }()
	select {
	case <-exited:
	case <-time.After(closeTimeout):
		s.signal(syscall.SIGKILL)
		<-exited
	}
	s.stop()
	s.logger.Debug("interpreter session closed")
	return nil
}

// handleCrash tears the interpreter down after it died or could not be
// reclaimed. Caller must hold s.mu.
func (s *processSession) handleCrash() {
	s.usable = false
	s.kill()
}

func (s *processSession) kill() {
	defer s.stop()
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		_ = s.cmd.Wait()
	}
}

func (s *processSession) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *processSession) signal(sig syscall.Signal) {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = syscall.Kill(-s.cmd.Process.Pid, sig)
	}
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func snapshotDir(dir string) map[string]fileStamp {
	out := make(map[string]fileStamp)
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return out
}

// diffArtifacts lists files created or rewritten between two snapshots.
func diffArtifacts(before, after map[string]fileStamp) []domain.Artifact {
	var arts []domain.Artifact
	for path, st := range after {
		if prev, ok := before[path]; ok && prev.size == st.size && prev.modTime.Equal(st.modTime) {
			continue
		}
		arts = append(arts, domain.Artifact{
			Path:      path,
			MediaType: mime.TypeByExtension(filepath.Ext(path)),
			Size:      st.size,
		})
	}
	sortArtifacts(arts)
	return arts
}

func sortArtifacts(arts []domain.Artifact) {
	sort.Slice(arts, func(i, j int) bool { return arts[i].Path < arts[j].Path })
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
