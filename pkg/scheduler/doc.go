/*
Package scheduler drains a FIFO of queued generations against the
InferenceBridge's single execution slot (spec section 4.5).

# Architecture

The scheduler owns three concerns, split across files the way the
teacher's package split scheduling concerns across functions within one
ticker-driven loop:

  - queue.go — enqueue, cancel, pause/resume, and the in-memory payload
    map a queued mesh job's uploaded image bytes (and every queued job's
    options) live in until dequeue (never persisted; spec section 4.5's
    "Data model").
  - run.go — the ticker-driven dequeue loop, session execution, bridge
    crash handling, and retention-cache eviction.
  - status.go — the read side: per-job status snapshots and download
    resolution for completed jobs.

	┌──────────────────────────────────────────────────────┐
	│                  Scheduler Loop                      │
	│                (ticker-driven, ~250ms)                │
	└───────────────────┬────────────────────────────────────┘
	                    │
	                    ▼
	┌──────────────────────────────────────────────────────┐
	│ 1. Skip if paused, bridge not running, or a job is    │
	│    already processing                                 │
	│ 2. Pick the oldest queued history row                 │
	│ 3. Transition it to processing (the linearization     │
	│    point — a crash after this is cleaned up by         │
	│    RecoverOrphans on the next startup)                 │
	│ 4. Instantiate and run a Session against the bridge    │
	│ 5. Record the terminal outcome back to the store       │
	└──────────────────────────────────────────────────────┘

Startup recovery (RecoverOrphans, demoting stale "processing" rows to
"failed") runs once, synchronously, before Start launches the loop —
spec section 4.5's ordered recovery list.
*/
package scheduler
