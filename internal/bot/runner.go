package bot

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured  = errors.New("worker command not configured")
	ErrAlreadyRunning = errors.New("media worker already running for session")
	ErrNotRunning     = errors.New("media worker not running for session")
)

// Runner is the interface used by handlers for starting/stopping media workers.
type Runner interface {
	Start(sessionID string, env map[string]string) error
	Stop(sessionID string) error
	IsRunning(sessionID string) bool
}

// ExitCallback is invoked when a session's worker process exits (naturally or killed).
type ExitCallback func(sessionID string, err error)
type LogCallback func(sessionID string, stream string, line string)
type StartCallback func(sessionID string, pid int)

type LocalRunner struct {
	workerCmd string
	logger    *zap.Logger

	// StopGrace is how long Stop waits after cancelling before it kills.
	StopGrace time.Duration
	OnExit    ExitCallback
	OnLog     LogCallback
	OnStart   StartCallback

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
}

func NewLocalRunner(workerCmd string, logger *zap.Logger) *LocalRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{
		workerCmd: workerCmd,
		logger:    logger.Named("bot"),
		StopGrace: 3 * time.Second,
		procs:     make(map[string]*proc),
	}
}

func (r *LocalRunner) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[sessionID]
	return ok
}

func (r *LocalRunner) Start(sessionID string, env map[string]string) error {
	parts := strings.Fields(r.workerCmd)
	if len(parts) == 0 {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	p := &proc{cancel: cancel, exited: make(chan struct{})}

	// Reserve slot to prevent TOCTOU duplicate starts
	r.mu.Lock()
	if _, exists := r.procs[sessionID]; exists {
		r.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	r.procs[sessionID] = p
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.procs, sessionID)
		r.mu.Unlock()
		cancel()
	}

	cmd.Env = append(os.Environ(), envToList(env)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		release()
		return err
	}
	if err := cmd.Start(); err != nil {
		release()
		return err
	}

	r.mu.Lock()
	p.cmd = cmd
	r.mu.Unlock()

	log := r.logger.With(zap.String("session_id", sessionID))
	log.Info("media worker started", zap.Int("pid", cmd.Process.Pid))
	if r.OnStart != nil {
		r.OnStart(sessionID, cmd.Process.Pid)
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go func() { defer streams.Done(); r.stream(sessionID, "stdout", stdout) }()
	go func() { defer streams.Done(); r.stream(sessionID, "stderr", stderr) }()

	go func() {
		streams.Wait()
		err := cmd.Wait()
		release()
		close(p.exited)
		log.Info("media worker exited", zap.Error(err))
		if r.OnExit != nil {
			r.OnExit(sessionID, err)
		}
	}()
	return nil
}

// Stop cancels the worker and kills it if it has not exited after StopGrace.
func (r *LocalRunner) Stop(sessionID string) error {
	r.mu.Lock()
	p, ok := r.procs[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	p.cancel()
	select {
	case <-p.exited:
	case <-time.After(r.StopGrace):
		r.mu.Lock()
		cmd := p.cmd
		r.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			r.logger.Warn("media worker did not exit, killing", zap.String("session_id", sessionID))
			_ = cmd.Process.Kill()
		}
	}
	return nil
}

func envToList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (r *LocalRunner) stream(sessionID, stream string, rdr io.Reader) {
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Debug("worker output", zap.String("session_id", sessionID), zap.String("stream", stream), zap.String("line", line))
		if r.OnLog != nil {
			r.OnLog(sessionID, stream, line)
		}
	}
}
