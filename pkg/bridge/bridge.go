// Package bridge supervises the external inference worker process:
// port acquisition, spawn, startup probing, steady-state health
// checks, bounded crash-restart, and a typed RPC surface the rest of
// the host uses instead of talking HTTP to the worker directly (spec
// section 4.3 / section 9's "supervisor task + typed client" redesign
// note).
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/config"
	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
)

// stopGrace is how long Stop waits after SIGTERM before SIGKILL.
const stopGrace = 5 * time.Second

// restartCooldown is the pause between a crash and the next spawn
// attempt.
const restartCooldown = 5 * time.Second

// CrashEvent is emitted whenever the worker's OS process exits
// unexpectedly; the scheduler consumes these to fail any in-flight
// Session (spec section 4.3, "Crash signal"). ExitCode and StderrTail
// carry the diagnostic detail spec section 4.3 asks the crash event to
// include; ExitCode is -1 when the process was killed by a signal or
// never reported an exit status.
type CrashEvent struct {
	At         time.Time
	ExitInfo   string
	ExitCode   int
	StderrTail []string
}

// Bridge owns the lifecycle of a single inference worker subprocess.
type Bridge struct {
	cfg config.BridgeConfig

	mu    sync.RWMutex
	state State
	port  int
	cli   *client

	budget *restartBudget

	crashCh chan CrashEvent

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Bridge that is not yet started.
func New(cfg config.BridgeConfig) *Bridge {
	return &Bridge{
		cfg:     cfg,
		state:   StateStopped,
		budget:  newRestartBudget(cfg.RestartBudget, 60*time.Second),
		crashCh: make(chan CrashEvent, 16),
	}
}

// State reports the bridge's current lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()

	gauge := map[State]float64{
		StateStopped:  0,
		StateStarting: 1,
		StateRunning:  2,
		StateCrashed:  3,
		StateBroken:   4,
	}[s]
	metrics.BridgeState.Set(gauge)
}

// CrashEvents returns the channel the scheduler listens on for worker
// crashes.
func (b *Bridge) CrashEvents() <-chan CrashEvent {
	return b.crashCh
}

// RestartCount reports the number of restarts counted within the
// trailing restart-budget window, for the GET /bridge status snapshot.
func (b *Bridge) RestartCount() int {
	return b.budget.count()
}

// Start spawns the worker and blocks until it is running or the
// startup timeout elapses, then launches the background supervisor
// that owns restarts for the remainder of the bridge's life.
func (b *Bridge) Start(ctx context.Context) error {
	supervisorCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	proc, port, err := b.spawnAndWait(ctx)
	if err != nil {
		cancel()
		b.setState(StateCrashed)
		return err
	}

	b.mu.Lock()
	b.port = port
	b.cli = newClient(port)
	b.mu.Unlock()
	b.setState(StateRunning)

	go b.supervise(supervisorCtx, proc)
	return nil
}

// spawnAndWait acquires a port, starts the worker, and waits for its
// health endpoint to answer before returning.
func (b *Bridge) spawnAndWait(ctx context.Context) (*process, int, error) {
	b.setState(StateStarting)

	port, err := acquirePort(b.cfg.PortRangeLow, b.cfg.PortRangeHigh)
	if err != nil {
		return nil, 0, fmt.Errorf("bridge: %w", err)
	}

	proc, err := startProcess(ctx, b.cfg.Command, port)
	if err != nil {
		return nil, 0, err
	}

	if err := waitForStartup(ctx, port, b.cfg.StartupTimeout()); err != nil {
		proc.stop(stopGrace)
		return nil, 0, fmt.Errorf("bridge: %w", err)
	}

	return proc, port, nil
}

// supervise runs the steady-state health loop against the current
// process and restarts on crash or health failure, up to the
// configured restart budget, per the state diagram in spec section
// 4.3.
func (b *Bridge) supervise(ctx context.Context, proc *process) {
	defer close(b.done)

	logger := log.WithComponent("bridge")
	healthCtx, stopHealth := context.WithCancel(ctx)
	unhealthy := make(chan struct{}, 1)
	go healthLoop(healthCtx, proc.port, b.cfg.HealthInterval(), b.cfg.HealthFailuresToCrash, func() {
		select {
		case unhealthy <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-ctx.Done():
			stopHealth()
			proc.stop(stopGrace)
			b.setState(StateStopped)
			return

		case <-proc.exited:
			stopHealth()
			b.emitCrash("worker process exited unexpectedly", proc)
			if !b.restartOrBreak(ctx) {
				return
			}
			var err error
			proc, healthCtx, stopHealth, unhealthy, err = b.restart(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("bridge restart failed")
				b.setState(StateBroken)
				return
			}

		case <-unhealthy:
			stopHealth()
			proc.stop(stopGrace)
			b.emitCrash("worker failed consecutive health checks", proc)
			if !b.restartOrBreak(ctx) {
				return
			}
			var err error
			proc, healthCtx, stopHealth, unhealthy, err = b.restart(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("bridge restart failed")
				b.setState(StateBroken)
				return
			}
		}
	}
}

// restartOrBreak records a restart attempt against the rolling budget
// and reports whether the supervisor should keep going.
func (b *Bridge) restartOrBreak(ctx context.Context) bool {
	b.setState(StateCrashed)
	metrics.BridgeRestartsTotal.Inc()

	if b.budget.record(time.Now()) {
		b.setState(StateBroken)
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(restartCooldown):
	}
	return true
}

// restart spawns a fresh worker process and a fresh health loop bound
// to it, reusing the bridge's existing supervisor context.
func (b *Bridge) restart(ctx context.Context) (*process, context.Context, context.CancelFunc, chan struct{}, error) {
	proc, port, err := b.spawnAndWait(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	b.mu.Lock()
	b.port = port
	b.cli = newClient(port)
	b.mu.Unlock()
	b.setState(StateRunning)

	healthCtx, stopHealth := context.WithCancel(ctx)
	unhealthy := make(chan struct{}, 1)
	go healthLoop(healthCtx, port, b.cfg.HealthInterval(), b.cfg.HealthFailuresToCrash, func() {
		select {
		case unhealthy <- struct{}{}:
		default:
		}
	})

	return proc, healthCtx, stopHealth, unhealthy, nil
}

func (b *Bridge) emitCrash(reason string, proc *process) {
	ev := CrashEvent{At: time.Now(), ExitInfo: reason, ExitCode: -1}
	if proc != nil {
		ev.ExitCode = proc.exitCode
		ev.StderrTail = proc.stderrSnapshot()
	}
	select {
	case b.crashCh <- ev:
	default:
	}
}

// Stop gracefully shuts the bridge down: stops the supervisor loop,
// which in turn stops the worker process.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Bridge) currentClient() (*client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateRunning {
		return nil, ferr.BridgeUnavailable(fmt.Sprintf("bridge is %s", b.state))
	}
	return b.cli, nil
}

// GenerateImage forwards a prompt-to-image request, deadlined at the
// single-stage timeout.
func (b *Bridge) GenerateImage(ctx context.Context, prompt string, options map[string]any) (*GenerationResult, error) {
	cli, err := b.currentClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SingleStageTimeout())
	defer cancel()
	return cli.GenerateImage(ctx, prompt, options)
}

// GenerateMesh forwards an image-to-mesh request, deadlined at the
// single-stage timeout.
func (b *Bridge) GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*GenerationResult, error) {
	cli, err := b.currentClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SingleStageTimeout())
	defer cancel()
	return cli.GenerateMesh(ctx, imageData, options)
}

// GenerateFull forwards a chained text-to-mesh request, deadlined at
// the full-pipeline timeout.
func (b *Bridge) GenerateFull(ctx context.Context, prompt string, options map[string]any) (*GenerationResult, error) {
	cli, err := b.currentClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.FullTimeout())
	defer cancel()
	return cli.GenerateFull(ctx, prompt, options)
}
