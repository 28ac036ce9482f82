// Package daemon runs reconcile cycles in response to timers, container
// events and bus messages, and serves a small status API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"boardsync/pkg/homarr"
	"boardsync/services/discovery"
	"boardsync/services/onboarding"
	"boardsync/services/reconciler"
	"boardsync/services/state"
)

// Runner executes one reconcile cycle.
type Runner interface {
	Run(ctx context.Context) (reconciler.Report, error)
}

// StateLoader reads the persisted state for the status endpoint.
type StateLoader interface {
	Load() (*state.State, error)
}

// Watcher streams container lifecycle events until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func(discovery.Event)) error
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Subscriber delivers bus messages to fn.
type Subscriber interface {
	Subscribe(ctx context.Context, subj string, fn func(ctx context.Context, data []byte) error, onErr func(error)) (io.Closer, error)
}

// Config controls cycle scheduling and the status server.
type Config struct {
	Interval       time.Duration
	RetryInterval  time.Duration
	RetryAttempts  uint64
	StatusAddr     string
	RefreshSubject string
	EventSubject   string
}

// SyncCompleted is published after every cycle.
type SyncCompleted struct {
	Time   time.Time         `json:"time"`
	Report reconciler.Report `json:"report"`
	Error  string            `json:"error,omitempty"`
}

// Daemon schedules cycles. Triggers arriving while a cycle runs are
// coalesced into at most one follow-up cycle.
type Daemon struct {
	runner  Runner
	store   StateLoader
	cfg     Config
	log     zerolog.Logger
	metrics *metrics

	watcher Watcher
	pub     Publisher
	sub     Subscriber

	triggers chan struct{}

	mu      sync.RWMutex
	last    *SyncCompleted
	healthy bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithWatcher triggers a cycle on container start, stop and die events.
func WithWatcher(w Watcher) Option {
	return func(d *Daemon) { d.watcher = w }
}

// WithPublisher publishes SyncCompleted events on cfg.EventSubject.
func WithPublisher(p Publisher) Option {
	return func(d *Daemon) { d.pub = p }
}

// WithSubscriber triggers a cycle for each message on cfg.RefreshSubject.
func WithSubscriber(s Subscriber) Option {
	return func(d *Daemon) { d.sub = s }
}

// New returns a daemon that runs cycles with runner and reports store in /status.
func New(runner Runner, store StateLoader, cfg Config, log zerolog.Logger, opts ...Option) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	d := &Daemon{
		runner:   runner,
		store:    store,
		cfg:      cfg,
		log:      log,
		metrics:  newMetrics(),
		triggers: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger requests a cycle without blocking.
func (d *Daemon) Trigger() {
	select {
	case d.triggers <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done or a cycle fails in a way retrying cannot
// fix. The first cycle starts immediately.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if d.sub != nil && d.cfg.RefreshSubject != "" {
		closer, err := d.sub.Subscribe(ctx, d.cfg.RefreshSubject, func(context.Context, []byte) error {
			d.log.Debug().Str("subject", d.cfg.RefreshSubject).Msg("refresh requested")
			d.Trigger()
			return nil
		}, func(err error) {
			d.log.Warn().Err(err).Msg("refresh handler failed")
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", d.cfg.RefreshSubject, err)
		}
		defer closer.Close()
	}

	d.Trigger()

	g.Go(func() error { return d.loop(ctx) })
	g.Go(func() error { return d.tick(ctx) })
	if d.watcher != nil {
		g.Go(func() error { return d.watch(ctx) })
	}
	if d.cfg.StatusAddr != "" {
		g.Go(func() error { return d.serve(ctx) })
	}

	return g.Wait()
}

func (d *Daemon) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.triggers:
		}

		if err := d.cycle(ctx); err != nil {
			return err
		}
	}
}

func (d *Daemon) tick(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Trigger()
		}
	}
}

func (d *Daemon) watch(ctx context.Context) error {
	backoff := retry.NewConstant(d.cfg.RetryInterval)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.watcher.Watch(ctx, func(ev discovery.Event) {
			d.log.Debug().Str("action", ev.Action).Str("container", ev.ContainerID).Msg("container event")
			d.Trigger()
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		d.log.Warn().Err(err).Dur("retry_in", d.cfg.RetryInterval).Msg("container event stream lost")
		return retry.RetryableError(err)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// cycle runs one reconcile with a fixed retry on transport failures. Only
// errors that retrying cannot fix are returned.
func (d *Daemon) cycle(ctx context.Context) error {
	start := time.Now()

	var report reconciler.Report
	backoff := retry.WithMaxRetries(d.cfg.RetryAttempts, retry.NewConstant(d.cfg.RetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		report, err = d.runner.Run(ctx)
		if homarr.IsRetryable(err) {
			d.metrics.retries.Inc()
			d.log.Warn().Err(err).Msg("dashboard unavailable, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if ctx.Err() != nil {
		return nil
	}

	d.metrics.observe(report, err, time.Since(start))
	d.record(report, err)
	d.publish(ctx)

	switch {
	case err == nil:
		d.log.Info().
			Int("boards", report.Boards).
			Int("placed", report.Placed).
			Int("failed", report.Failed).
			Dur("duration", time.Since(start)).
			Msg("sync completed")
		return nil
	case isFatal(err):
		d.log.Error().Err(err).Msg("sync cannot continue")
		return err
	default:
		d.log.Error().Err(err).Msg("sync failed")
		return nil
	}
}

// isFatal reports errors that repeat identically on every cycle. A request
// the dashboard rejects as invalid is not resent.
func isFatal(err error) bool {
	return errors.Is(err, homarr.ErrAuthRejected) ||
		errors.Is(err, homarr.ErrRemoteRejected) ||
		errors.Is(err, onboarding.ErrOnboardingStuck) ||
		errors.Is(err, state.ErrSealedKey)
}

func (d *Daemon) record(report reconciler.Report, err error) {
	ev := &SyncCompleted{Time: time.Now().UTC(), Report: report}
	if err != nil {
		ev.Error = err.Error()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = ev
	if err == nil {
		d.healthy = true
	}
}

func (d *Daemon) publish(ctx context.Context) {
	if d.pub == nil || d.cfg.EventSubject == "" {
		return
	}
	d.mu.RLock()
	ev := *d.last
	d.mu.RUnlock()

	if pubErr := d.pub.Publish(ctx, d.cfg.EventSubject, ev); pubErr != nil {
		d.log.Warn().Err(pubErr).Str("subject", d.cfg.EventSubject).Msg("failed to publish sync event")
	}
}

// Last returns the outcome of the most recent cycle, if any.
func (d *Daemon) Last() (SyncCompleted, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return SyncCompleted{}, false
	}
	return *d.last, true
}

func (d *Daemon) ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.healthy
}

func (d *Daemon) serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              d.cfg.StatusAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", server.Addr).Msg("status server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warn().Err(err).Msg("status server shutdown")
		}
		return nil
	}
}
