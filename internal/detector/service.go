package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrServiceClosed is returned by Infer after Close or after the process exited.
var ErrServiceClosed = errors.New("inference service closed")

// closeGrace is how long Close waits for the process to exit after stdin is closed.
const closeGrace = 2 * time.Second

// Launcher starts inference services. Each service is a Python process that loads one
// model set and answers framed JPEG requests with one JSON line.
type Launcher struct {
	Python   string
	Script   string
	ModelDir string

	// Timeout bounds a single inference. Zero means no limit.
	Timeout time.Duration

	Logger *zap.SugaredLogger

	// Command overrides process creation. Tests use it to run a fake service.
	Command func(args ...string) *exec.Cmd
}

// Start launches a service for model with options encoded as JSON and waits for it
// to report ready.
func (l *Launcher) Start(ctx context.Context, model string, options any) (*Service, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return nil, errors.Wrap(err, "encode options")
	}

	args := []string{"--model", model, "--model-dir", l.ModelDir, "--options", string(opts)}
	var cmd *exec.Cmd
	if l.Command != nil {
		cmd = l.Command(args...)
	} else {
		script, err := filepath.Abs(l.Script)
		if err != nil {
			script = l.Script
		}
		python := l.Python
		if python == "" {
			python = "python3"
		}
		cmd = exec.Command(python, append([]string{script}, args...)...)
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	svc, err := startService(ctx, cmd, logger.With("model", model))
	if err != nil {
		return nil, errors.Wrapf(err, "start %s service", model)
	}
	svc.timeout = l.Timeout
	return svc, nil
}

// Service is one running inference process.
type Service struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	pipe    *os.File
	timeout time.Duration
	logger  *zap.SugaredLogger

	// busy holds one token while an exchange owns the pipes. An abandoned
	// exchange keeps it until its reply arrives.
	busy chan struct{}

	lifeMu sync.Mutex
	closed bool
	exited chan struct{}
	err    error
}

type serviceReply struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

func startService(ctx context.Context, cmd *exec.Cmd, logger *zap.SugaredLogger) (*Service, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "create stdin pipe")
	}
	// Wait closes pipes made by StdoutPipe; a plain os.Pipe stays readable until
	// every reply written before exit has been consumed.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "create stdout pipe")
	}
	cmd.Stdout = w
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = w.Close()
		return nil, errors.Wrap(err, "start process")
	}
	_ = w.Close()

	s := &Service{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		pipe:   stdout,
		logger: logger,
		busy:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go func() {
		s.err = cmd.Wait()
		close(s.exited)
	}()

	ready := make(chan error, 1)
	go func() {
		line, err := s.stdout.ReadBytes('\n')
		if err != nil {
			ready <- errors.Wrap(err, "read ready line")
			return
		}
		var reply serviceReply
		if err := json.Unmarshal(line, &reply); err != nil {
			ready <- errors.Wrap(err, "parse ready line")
			return
		}
		if reply.Error != "" {
			ready <- errors.New(reply.Error)
			return
		}
		if !reply.Ready {
			ready <- errors.Errorf("unexpected ready line %q", line)
			return
		}
		ready <- nil
	}()

	select {
	case err := <-ready:
		if err != nil {
			s.kill()
			return nil, err
		}
	case <-ctx.Done():
		s.kill()
		return nil, ctx.Err()
	}

	logger.Debugw("inference service ready", "pid", cmd.Process.Pid)
	return s, nil
}

// Infer sends one frame and decodes the JSON reply into out. If ctx ends first the
// call returns ctx.Err(); the exchange still completes in the background so the
// pipes stay in step for the next request.
func (s *Service) Infer(ctx context.Context, frame []byte, out any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrServiceClosed
	}

	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)

	select {
	case s.busy <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		return ErrServiceClosed
	}
	go func() {
		defer func() { <-s.busy }()
		line, err := s.exchange(frame)
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			if s.isClosed() {
				return ErrServiceClosed
			}
			return r.err
		}
		var reply serviceReply
		if err := json.Unmarshal(r.line, &reply); err != nil {
			return errors.Wrap(err, "parse response")
		}
		if reply.Error != "" {
			return errors.Errorf("inference: %s", reply.Error)
		}
		if err := json.Unmarshal(r.line, out); err != nil {
			return errors.Wrap(err, "parse response")
		}
		return nil
	}
}

// exchange writes a 4-byte big-endian length followed by the frame, then reads one line.
func (s *Service) exchange(frame []byte) ([]byte, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(frame)))

	if _, err := s.stdin.Write(length); err != nil {
		return nil, errors.Wrap(err, "write length")
	}
	if _, err := s.stdin.Write(frame); err != nil {
		return nil, errors.Wrap(err, "write data")
	}

	line, err := s.stdout.ReadBytes('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return line, nil
}

func (s *Service) isClosed() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return true
	}
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// Close asks the process to exit by closing stdin and kills it if it does not.
func (s *Service) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifeMu.Unlock()

	closeErr := s.stdin.Close()

	select {
	case <-s.exited:
	case <-time.After(closeGrace):
		s.logger.Warnw("inference service did not exit, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-s.exited
		_ = s.pipe.Close()
		return closeErr
	}
	_ = s.pipe.Close()

	if s.err != nil {
		var exitErr *exec.ExitError
		if errors.As(s.err, &exitErr) {
			s.logger.Debugw("inference service exited", "code", exitErr.ExitCode())
			return closeErr
		}
		return s.err
	}
	return closeErr
}

func (s *Service) kill() {
	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	<-s.exited
	_ = s.pipe.Close()
}
