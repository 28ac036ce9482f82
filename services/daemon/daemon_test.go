package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/pkg/homarr"
	"boardsync/services/discovery"
	"boardsync/services/onboarding"
	"boardsync/services/reconciler"
	"boardsync/services/state"
)

type fakeRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeRunner) Run(context.Context) (reconciler.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	return reconciler.Report{Boards: 1, Entries: 2, Placed: 2}, err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWatcher struct {
	events chan discovery.Event
}

func (f *fakeWatcher) Watch(ctx context.Context, fn func(discovery.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			fn(ev)
		}
	}
}

type fakeBus struct {
	mu        sync.Mutex
	published []SyncCompleted
	handler   func(context.Context, []byte) error
	closed    bool
}

func (f *fakeBus) Publish(_ context.Context, subj string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subj != "boardsync.synced" {
		return fmt.Errorf("unexpected subject %s", subj)
	}
	f.published = append(f.published, v.(SyncCompleted))
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, subj string, fn func(context.Context, []byte) error, _ func(error)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subj != "boardsync.refresh" {
		return nil, fmt.Errorf("unexpected subject %s", subj)
	}
	f.handler = fn
	return f, nil
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBus) deliver(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	require.NotNil(t, fn)
	require.NoError(t, fn(context.Background(), []byte(`{}`)))
}

func (f *fakeBus) Published() []SyncCompleted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SyncCompleted(nil), f.published...)
}

func testConfig() Config {
	return Config{
		Interval:       time.Hour,
		RetryInterval:  time.Millisecond,
		RetryAttempts:  3,
		RefreshSubject: "boardsync.refresh",
		EventSubject:   "boardsync.synced",
	}
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	return state.NewStore(filepath.Join(t.TempDir(), "state.json"))
}

func start(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestTriggerCoalesces(t *testing.T) {
	d := New(&fakeRunner{}, newStore(t), testConfig(), zerolog.Nop())

	d.Trigger()
	d.Trigger()
	d.Trigger()

	assert.Len(t, d.triggers, 1)
}

func TestRunStartsWithACycle(t *testing.T) {
	runner := &fakeRunner{}
	bus := &fakeBus{}
	d := New(runner, newStore(t), testConfig(), zerolog.Nop(), WithPublisher(bus), WithSubscriber(bus))

	cancel, done := start(t, d)

	require.Eventually(t, func() bool { return len(bus.Published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, runner.Calls())

	ev := bus.Published()[0]
	assert.Empty(t, ev.Error)
	assert.Equal(t, 2, ev.Report.Placed)

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, ev.Report, last.Report)
	assert.True(t, d.ready())

	cancel()
	require.NoError(t, wait(t, done))
	assert.True(t, bus.closed)
}

func TestRetriesUnavailableDashboard(t *testing.T) {
	unavailable := fmt.Errorf("list boards: %w", homarr.ErrRemoteUnavailable)
	runner := &fakeRunner{errs: []error{unavailable, unavailable}}
	d := New(runner, newStore(t), testConfig(), zerolog.Nop())

	cancel, done := start(t, d)

	require.Eventually(t, func() bool { return d.ready() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, runner.Calls())

	cancel()
	require.NoError(t, wait(t, done))
}

func TestExhaustedRetriesKeepDaemonAlive(t *testing.T) {
	unavailable := homarr.ErrRemoteUnavailable
	runner := &fakeRunner{errs: []error{unavailable, unavailable, unavailable, unavailable, unavailable}}
	cfg := testConfig()
	cfg.RetryAttempts = 1
	d := New(runner, newStore(t), cfg, zerolog.Nop())

	cancel, done := start(t, d)

	require.Eventually(t, func() bool { _, ok := d.Last(); return ok }, 2*time.Second, 5*time.Millisecond)
	last, _ := d.Last()
	assert.Contains(t, last.Error, "unavailable")
	assert.False(t, d.ready())
	assert.Equal(t, 2, runner.Calls())

	d.Trigger()
	require.Eventually(t, func() bool { return runner.Calls() == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestFatalErrorsStopDaemon(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "auth rejected", err: fmt.Errorf("login: %w", homarr.ErrAuthRejected)},
		{name: "onboarding stuck", err: fmt.Errorf("onboarding: %w", onboarding.ErrOnboardingStuck)},
		{name: "initial user rejected", err: fmt.Errorf("create initial user: %w", &homarr.APIError{Procedure: "user.initUser", StatusCode: 400, Err: homarr.ErrRemoteRejected})},
		{name: "sealed key unreadable", err: fmt.Errorf("load state: %w", state.ErrSealedKey)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{errs: []error{tc.err}}
			d := New(runner, newStore(t), testConfig(), zerolog.Nop())

			_, done := start(t, d)

			err := wait(t, done)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err))
			assert.Equal(t, 1, runner.Calls())
		})
	}
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	runner := &fakeRunner{errs: []error{errors.New("boom")}}
	d := New(runner, newStore(t), testConfig(), zerolog.Nop())

	cancel, done := start(t, d)

	require.Eventually(t, func() bool { _, ok := d.Last(); return ok }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, runner.Calls())

	cancel()
	require.NoError(t, wait(t, done))
}

func TestContainerEventsTriggerCycles(t *testing.T) {
	runner := &fakeRunner{}
	watcher := &fakeWatcher{events: make(chan discovery.Event)}
	d := New(runner, newStore(t), testConfig(), zerolog.Nop(), WithWatcher(watcher))

	cancel, done := start(t, d)
	require.Eventually(t, func() bool { return runner.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	watcher.events <- discovery.Event{Action: "start", ContainerID: "abc"}
	require.Eventually(t, func() bool { return runner.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestRefreshMessagesTriggerCycles(t *testing.T) {
	runner := &fakeRunner{}
	bus := &fakeBus{}
	d := New(runner, newStore(t), testConfig(), zerolog.Nop(), WithSubscriber(bus))

	cancel, done := start(t, d)
	require.Eventually(t, func() bool { return runner.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus.deliver(t)
	require.Eventually(t, func() bool { return runner.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestStatusHandler(t *testing.T) {
	store := newStore(t)
	st := state.New()
	st.FirstBootCompleted = true
	st.APIKey = "secret-key"
	st.MarkRemoved("board-1", "http://b/")
	st.MarkRemoved("board-1", "http://a/")
	st.RecordApp("http://a/", "A", "c1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save(st))

	d := New(&fakeRunner{}, store, testConfig(), zerolog.Nop())
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, d.cycle(context.Background()))

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `boardsync_cycles_total{result="ok"} 1`)
	assert.Contains(t, body, `boardsync_entries_total{outcome="placed"} 2`)

	code, body = get("/status")
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "secret-key")

	var status Status
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.True(t, status.FirstBootCompleted)
	assert.Equal(t, 1, status.DiscoveredApps)
	assert.Equal(t, []string{"http://a/", "http://b/"}, status.Removed["board-1"])
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 2, status.LastCycle.Report.Placed)
}
