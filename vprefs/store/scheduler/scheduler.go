// Package scheduler flushes preference trees in the background and once more
// on shutdown.
package scheduler

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/virtual-prefs/vprefs"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Flusher writes pending changes. *store.Registry satisfies it.
type Flusher interface {
	Flush() error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between background flushes. Non-positive values
// are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for flush failures and lifecycle messages. The
// default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithShutdownSignals replaces the signals that trigger the final flush. With
// no arguments the scheduler does not listen for signals at all.
//
// After the final flush the scheduler stops listening and sends the received
// signal to the process again, so it still terminates the way it would have
// without the scheduler.
func WithShutdownSignals(sig ...os.Signal) Option {
	return func(s *Scheduler) { s.signals = sig }
}

// Scheduler calls Flush on a fixed interval until it is stopped, then flushes
// one last time.
type Scheduler struct {
	flusher  Flusher
	interval time.Duration
	signals  []os.Signal
	logger   zerolog.Logger
	raise    func(os.Signal)

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	finalErr error
	wg       conc.WaitGroup
}

// New creates a stopped scheduler for f.
func New(f Flusher, opts ...Option) *Scheduler {
	s := &Scheduler{
		flusher:  f,
		interval: time.Duration(internal.DefaultSyncIntervalSeconds) * time.Second,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
		logger:   zerolog.Nop(),
		raise:    raise,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the flush loop. The loop ends when ctx is cancelled, a
// shutdown signal arrives or Stop is called, after a final flush.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var sigCh chan os.Signal
	if len(s.signals) > 0 {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, s.signals...)
	}

	s.wg.Go(func() {
		if sigCh != nil {
			defer signal.Stop(sigCh)
		}
		s.loop(ctx, sigCh)
	})

	s.logger.Info().Dur("interval", s.interval).Msg("preference sync scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, sigCh chan os.Signal) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.flusher.Flush(); err != nil {
				s.logger.Error().Err(err).Msg("background preference flush failed")
			}
		case sig := <-sigCh:
			s.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			s.finalFlush()
			// Hand the signal back so the process exits as it would have.
			signal.Stop(sigCh)
			s.raise(sig)
			return
		case <-ctx.Done():
			s.finalFlush()
			return
		}
	}
}

func (s *Scheduler) finalFlush() {
	s.logger.Debug().Msg("running final preference flush")
	err := s.flusher.Flush()
	if err != nil {
		s.logger.Error().Err(err).Msg("final preference flush failed")
	}
	s.mu.Lock()
	s.finalErr = err
	s.mu.Unlock()
}

// Stop ends the loop, waits for the final flush and returns its error. Calling
// Stop on a scheduler that was never started does nothing.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

// Done is closed once the final flush has run.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
