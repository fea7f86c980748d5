package apihttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"mediastream/internal/domain"
)

// process abstracts a running encoder subprocess so the job registry and
// reaper never touch exec.Cmd directly. Tests substitute stub processes.
type process interface {
	// Alive reports whether the subprocess is still running.
	Alive() bool
	// Stop asks the subprocess to exit gracefully and escalates to a kill
	// after the grace period.
	Stop(grace time.Duration)
	// Done is closed when the subprocess exits.
	Done() <-chan struct{}
	// Stderr returns the captured diagnostic output, available after exit.
	Stderr() string
}

// startProcFunc launches an encoder; the job manager holds one so tests can
// run without a real ffmpeg.
type startProcFunc func(binary string, args []string, dir string) (process, error)

type encoderProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu     sync.Mutex
	stderr bytes.Buffer
}

const maxStderrBytes = 8 << 10

// cappedBuffer keeps only the first maxStderrBytes of encoder stderr; that is
// where ffmpeg prints the actual startup failure.
type cappedBuffer struct {
	p *encoderProcess
}

func (b cappedBuffer) Write(data []byte) (int, error) {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	if remaining := maxStderrBytes - b.p.stderr.Len(); remaining > 0 {
		if len(data) > remaining {
			b.p.stderr.Write(data[:remaining])
		} else {
			b.p.stderr.Write(data)
		}
	}
	return len(data), nil
}

func startEncoder(binary string, args []string, dir string) (process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Stdout = io.Discard

	p := &encoderProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = cappedBuffer{p: p}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTranscoderNotFound, binary)
		}
		return nil, err
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *encoderProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *encoderProcess) Done() <-chan struct{} {
	return p.done
}

func (p *encoderProcess) Stop(grace time.Duration) {
	if !p.Alive() {
		return
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	_ = p.cmd.Process.Kill()
}

func (p *encoderProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}
