// Package supervisor owns the lifecycle of the acquisition process: spawn,
// death detection, graceful shutdown and forced kill.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a handle on a spawned acquisition process. Terminate and Kill
// are no-ops on a process that has already exited.
type Process interface {
	Pid() int
	Alive() bool
	Terminate() error
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err is the exit status; valid after Done is closed.
	Err() error
}

// Pipes is implemented by processes whose stdin and stdout carry the
// command protocol.
type Pipes interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
}

// Launcher spawns a new acquisition process.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher starts a local executable in its own process group, so a
// terminal SIGINT aimed at the controller does not reach it.
type ExecLauncher struct {
	Path string
	Args []string
	Dir  string
	// Pipes connects stdin and stdout for the command protocol. Without
	// it stdout is copied to Output.
	Pipes bool
	// Output receives stderr, and stdout when Pipes is false.
	// Defaults to os.Stderr.
	Output io.Writer
}

// Launch starts the process. ctx only gates the start; cancelling it
// later does not signal the process.
func (l ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = l.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := l.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stderr = out

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	var writer *os.File
	if l.Pipes {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		// cmd.Wait closes a StdoutPipe, which can drop the last reply.
		// With our own pipe the reader sees EOF only after the child
		// and its descendants have closed their end.
		r, w, err := os.Pipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		cmd.Stdout = w
		p.stdin, p.stdout = stdin, r
		writer = w
	} else {
		cmd.Stdout = out
	}

	err := cmd.Start()
	if writer != nil {
		writer.Close()
	}
	if err != nil {
		if p.stdout != nil {
			p.stdout.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", l.Path, err)
	}
	go p.reap()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Terminate() error { return p.signal(unix.SIGTERM) }
func (p *execProcess) Kill() error      { return p.signal(unix.SIGKILL) }

// signal targets the whole process group. ESRCH means it is already gone.
func (p *execProcess) signal(sig unix.Signal) error {
	if !p.Alive() {
		return nil
	}
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to send %s to %d: %w", unix.SignalName(sig), p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
// Stdout returns the read end of the stdout pipe. Closing it is up to the
// reader, once it has seen EOF.
func (p *execProcess) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// ProcessAlive reports whether pid names a running process, using the
// null signal. EPERM means it exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
