package bridge

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/rs/zerolog"
)

// stderrTailLines bounds how much of the worker's stderr the bridge
// keeps around for a crash report (spec section 4.3: "the bridge emits
// a crash event carrying the exit code and last known stderr tail").
const stderrTailLines = 20

// stderrTail is a bounded ring of the worker's most recent stderr
// lines, written from the process's stderr-reading goroutine and read
// once the process has exited.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
}

func newStderrTail() *stderrTail {
	return &stderrTail{}
}

func (t *stderrTail) add(line string) {
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *stderrTail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// acquirePort scans [low, high] for a port nobody is listening on by
// binding and immediately releasing it, the same bind-then-release
// probe a process supervisor uses to hand a child a free port without
// a registry to coordinate through.
func acquirePort(low, high int) (int, error) {
	for port := low; port <= high; port++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("bridge: no free port in range [%d, %d]", low, high)
}

// process supervises a single invocation of the inference worker
// binary: spawn, monitor for exit, and a graceful SIGTERM-then-SIGKILL
// stop. It is deliberately unaware of restart policy — process.go only
// knows how to run one instance at a time, same as
// embedded.ContainerdManager supervises one containerd instance.
type process struct {
	cmd      *exec.Cmd
	port     int
	exited   chan struct{}
	logger   zerolog.Logger
	stderr   *stderrTail
	exitCode int
}

// startProcess spawns command with the bridge's listen port appended
// as its last argument, the convention spec section 4 assumes the
// worker binary follows.
func startProcess(ctx context.Context, command string, port int) (*process, error) {
	logger := log.WithComponent("bridge")

	tail := newStderrTail()

	cmd := exec.CommandContext(ctx, command, "--port", fmt.Sprintf("%d", port))
	cmd.Stdout = &logWriter{logger: logger, level: zerolog.InfoLevel}
	cmd.Stderr = &logWriter{logger: logger, level: zerolog.ErrorLevel, tail: tail}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: starting %s: %w", command, err)
	}

	p := &process{
		cmd:    cmd,
		port:   port,
		exited: make(chan struct{}),
		logger: logger,
		stderr: tail,
	}

	go func() {
		err := p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		} else if err != nil {
			p.exitCode = -1
		}
		close(p.exited)
	}()

	return p, nil
}

// stop sends SIGTERM, waits up to grace for the process to exit, and
// SIGKILLs it if it hasn't.
func (p *process) stop(grace time.Duration) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn().Err(err).Msg("sending SIGTERM to bridge process failed")
	}

	select {
	case <-p.exited:
		return
	case <-time.After(grace):
		p.logger.Warn().Msg("bridge process did not exit after SIGTERM, sending SIGKILL")
		if err := p.cmd.Process.Kill(); err != nil {
			p.logger.Error().Err(err).Msg("SIGKILL of bridge process failed")
		}
		<-p.exited
	}
}

// logWriter adapts a subprocess's stdout/stderr pipe into the host's
// structured logger, one JSON-encoded line per line of raw output. A
// stderr logWriter also mirrors each line into a stderrTail so a crash
// report can carry the worker's last known output.
type logWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
	tail   *stderrTail
}

func (w *logWriter) Write(p []byte) (int, error) {
	line := string(p)
	w.logger.WithLevel(w.level).Str("source", "bridge-process").Msg(line)
	if w.tail != nil {
		w.tail.add(strings.TrimRight(line, "\n"))
	}
	return len(p), nil
}

// stderrSnapshot returns the worker's last known stderr output, for a
// crash event.
func (p *process) stderrSnapshot() []string {
	if p.stderr == nil {
		return nil
	}
	return p.stderr.snapshot()
}
