// Package shutdown coordinates one Host process's graceful shutdown
// (spec §5): run every registered Hook concurrently within a bounded
// timeout before forcing the process to exit. The hooks a dreamhost
// process registers stop the remaining top-level services in self-URI
// order (each one's children are stopped with it), dispose every pubsub
// queue, and shut the HTTP server down. Host admission does not consult
// the tracker, and no hook cancels pending admissions or releases the
// admission semaphore.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dream/config"
)

// Hook is a cooperative shutdown task registered against a Tracker. It
// receives a context that is canceled once the shutdown timeout closes,
// so a hook can check force.Err() to tell whether it's run out of time.
type Hook func(force context.Context)

// Tracker coordinates graceful shutdown for one Host process. The zero
// value is not usable; build one with NewTracker. A nil *Tracker is
// accepted by OnShutdown as a no-op, so code that runs in tests without
// a real Host (and so never gets a Tracker) can still call it
// unconditionally.
type Tracker struct {
	logger zerolog.Logger

	watchSignals bool
	logShutdown  bool
	timeout      time.Duration

	initiated chan struct{} // closed when graceful shutdown is initiated
	once      sync.Once     // runs the shutdown logic only once

	mu    sync.Mutex
	hooks []Hook
}

// NewTracker builds a Tracker from cfg (spec §6 "dream.env.*"):
// dream.env.type=test disables signal watching, and
// dream.env.cloud=local disables shutdown logging, so running the Host
// under `go test` or on a developer machine doesn't install signal
// handlers or spam the console on every test teardown.
func NewTracker(cfg *config.Runtime, logger zerolog.Logger) *Tracker {
	timeout := cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		logger:       logger,
		watchSignals: cfg.EnvType != "test",
		logShutdown:  cfg.EnvCloud != "local",
		timeout:      timeout,
		initiated:    make(chan struct{}),
	}
}

// WatchForShutdownSignals watches for SIGTERM and SIGINT and triggers
// Shutdown when either arrives. A no-op when the Tracker was built with
// dream.env.type=test.
func (t *Tracker) WatchForShutdownSignals() {
	if !t.watchSignals {
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		t.shutdown(sig, nil)
	}()
}

// OnShutdown registers fn to run once graceful shutdown begins, in no
// particular order relative to other registered hooks.
//
// The given context is canceled once the shutdown timeout closes and
// it's time to force the process to exit; force.Deadline() can be
// inspected to learn when that will happen in advance.
//
// If t is nil this is a no-op, so packages that register a hook during
// init() before the Host has assigned a real Tracker don't need a nil
// check of their own.
func (t *Tracker) OnShutdown(fn Hook) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Shutdown triggers graceful shutdown immediately, as though reasonErr
// had caused it. Later calls, and calls racing a signal-triggered
// shutdown, are no-ops: shutdown runs exactly once.
func (t *Tracker) Shutdown(reasonErr error) {
	t.shutdown(nil, reasonErr)
}

func (t *Tracker) shutdown(reasonSignal os.Signal, reasonErr error) {
	t.once.Do(func() {
		close(t.initiated)

		force, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if t.logShutdown {
			switch {
			case reasonSignal != nil:
				t.logger.Warn().Str("signal", reasonSignal.String()).Msg("got shutdown signal, initiating graceful shutdown")
			case reasonErr != nil:
				t.logger.Err(reasonErr).Msg("a fatal error occurred, initiating graceful shutdown")
			default:
				t.logger.Info().Msg("initiating graceful shutdown")
			}
		}

		t.mu.Lock()
		hooks := t.hooks
		t.mu.Unlock()

		done := make(chan struct{})
		go func() {
			var wg sync.WaitGroup
			wg.Add(len(hooks))
			for _, fn := range hooks {
				fn := fn
				go func() {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							t.logger.Error().Interface("panic", r).Msg("panic encountered during shutdown hook")
						}
					}()
					fn(force)
				}()
			}
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			if t.logShutdown {
				t.logger.Info().Msg("graceful shutdown completed")
			}
		case <-force.Done():
			if errors.Is(force.Err(), context.DeadlineExceeded) {
				if t.logShutdown {
					t.logger.Info().Msg("graceful shutdown window closed, forcing shutdown")
				}
				os.Exit(1)
			}
		}
	})
}

// ShutdownInitiated reports whether graceful shutdown has been initiated.
func (t *Tracker) ShutdownInitiated() bool {
	select {
	case <-t.initiated:
		return true
	default:
		return false
	}
}
