// Package encoding runs the external ffmpeg stages: the cleaner that
// normalizes arbitrary video into MPEG-TS and the segmenter that slices TS
// into the rolling HLS window. A shared process wrapper handles spawn,
// stderr draining and the stop protocol (stdin close, 5s grace, kill).
package encoding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"tgstream/internal/domain"
)

const stopGrace = 5 * time.Second

// Process is one running encoder.
type Process struct {
	name   string
	log    *slog.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	stdinOnce sync.Once
	waitOnce  sync.Once
	waitDone  chan struct{}
	waitErr   error
}

// startProcess spawns the encoder with a stdin pipe, an optional stdout pipe,
// and a goroutine draining stderr into the log at warn level.
func startProcess(log *slog.Logger, name, path string, args []string, wantStdout bool) (*Process, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdin: %w", name, err)
	}

	var stdout io.ReadCloser
	if wantStdout {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%s stdout: %w", name, err)
		}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stderr: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s start: %w", name, err)
	}

	p := &Process{
		name:     name,
		log:      log,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		grace:    stopGrace,
		waitDone: make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			p.log.Warn("encoder stderr",
				slog.String("process", p.name), slog.String("line", scanner.Text()))
		}
	}()

	p.log.Info("encoder started",
		slog.String("process", p.name), slog.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Write feeds stdin. A broken pipe surfaces as domain.ErrPipeClosed so the
// caller can finish the current video cleanly.
func (p *Process) Write(buf []byte) error {
	_, err := p.stdin.Write(buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("%s: %w", p.name, domain.ErrPipeClosed)
	}
	return fmt.Errorf("%s write: %w", p.name, err)
}

// Read pulls encoder stdout. Only valid when the process was started with a
// stdout pipe.
func (p *Process) Read(buf []byte) (int, error) {
	return p.stdout.Read(buf)
}

// CloseStdin signals EOF to the encoder. Safe to call more than once.
func (p *Process) CloseStdin() {
	p.stdinOnce.Do(func() {
		if err := p.stdin.Close(); err != nil {
			p.log.Debug("stdin close", slog.String("process", p.name), slog.String("err", err.Error()))
		}
	})
}

// wait reaps the process exactly once; waitDone closes with the exit error
// cached so any number of waiters see it.
func (p *Process) wait() <-chan struct{} {
	p.waitOnce.Do(func() {
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.waitDone)
		}()
	})
	return p.waitDone
}

// Stop closes stdin, waits up to the grace period, then kills. Idempotent.
func (p *Process) Stop() {
	p.CloseStdin()
	select {
	case <-p.wait():
		if p.waitErr != nil {
			p.log.Debug("encoder exit", slog.String("process", p.name), slog.String("err", p.waitErr.Error()))
		}
	case <-time.After(p.grace):
		p.log.Warn("encoder did not exit, killing", slog.String("process", p.name))
		_ = p.cmd.Process.Kill()
		<-p.wait()
	}
}
