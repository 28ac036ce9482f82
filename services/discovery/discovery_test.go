package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/pkg/homarr"
)

type fakeDocker struct {
	containers []types.Container
	listErr    error
	listOpts   container.ListOptions
	msgs       chan events.Message
	errs       chan error
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.listOpts = opts
	return f.containers, f.listErr
}

func (f *fakeDocker) Events(context.Context, events.ListOptions) (<-chan events.Message, <-chan error) {
	return f.msgs, f.errs
}

func (f *fakeDocker) Close() error { return nil }

func TestParseLabels(t *testing.T) {
	const id = "0123456789abcdef0123"

	tests := []struct {
		name   string
		labels map[string]string
		ok     bool
		check  func(t *testing.T, e homarr.AppEntry)
	}{
		{
			name: "full labels",
			labels: map[string]string{
				LabelEnable:         "true",
				LabelName:           "Grafana",
				LabelURL:            "http://grafana.local:3000",
				LabelDescription:    "Dashboards",
				LabelIcon:           "/usr/share/pixmaps/grafana.png",
				LabelCategory:       "Monitoring",
				LabelPriority:       "20",
				composeServiceLabel: "grafana",
			},
			ok: true,
			check: func(t *testing.T, e homarr.AppEntry) {
				assert.Equal(t, "Grafana", e.Name)
				assert.Equal(t, "grafana", e.ContainerName)
				assert.Equal(t, id, e.ContainerID)
				assert.Equal(t, homarr.KindContainer, e.Kind)
				assert.Equal(t, "Monitoring", e.Category)
				assert.Equal(t, 20, e.Layout.Priority)
			},
		},
		{
			name:   "short id without compose service",
			labels: map[string]string{LabelEnable: "true", LabelName: "X", LabelURL: "http://x", LabelPriority: "high"},
			ok:     true,
			check: func(t *testing.T, e homarr.AppEntry) {
				assert.Equal(t, "0123456789ab", e.ContainerName)
				assert.Equal(t, homarr.DefaultPriority, e.Layout.Priority)
			},
		},
		{
			name:   "hidden",
			labels: map[string]string{LabelEnable: "true", LabelName: "X", LabelURL: "http://x", LabelHidden: "true"},
			ok:     true,
			check: func(t *testing.T, e homarr.AppEntry) {
				assert.True(t, e.Hidden)
			},
		},
		{name: "not enabled", labels: map[string]string{LabelName: "X", LabelURL: "http://x"}},
		{name: "missing url", labels: map[string]string{LabelEnable: "true", LabelName: "X"}},
		{name: "missing name", labels: map[string]string{LabelEnable: "true", LabelURL: "http://x"}},
		{name: "dashboard itself", labels: map[string]string{LabelEnable: "true", LabelName: "Homarr", LabelURL: "http://homarr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := ParseLabels(id, tt.labels)
			assert.Equal(t, tt.ok, ok)
			if tt.check != nil {
				tt.check(t, entry)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{
		{ID: "aaa", Labels: map[string]string{LabelEnable: "true", LabelName: "A", LabelURL: "http://a"}},
		{ID: "bbb", Labels: map[string]string{LabelEnable: "true", LabelName: "homarr", LabelURL: "http://h"}},
		{ID: "ccc", Labels: map[string]string{LabelEnable: "false", LabelName: "C", LabelURL: "http://c"}},
	}}
	d := &Docker{api: fake, log: zerolog.Nop()}

	entries, err := d.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Name)
	assert.Equal(t, []string{LabelEnable + "=true"}, fake.listOpts.Filters.Get("label"))

	fake.listErr = errors.New("socket closed")
	_, err = d.Load(context.Background())
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	fake := &fakeDocker{msgs: make(chan events.Message, 4), errs: make(chan error, 1)}
	d := &Docker{api: fake, log: zerolog.Nop()}

	fake.msgs <- events.Message{Action: events.ActionStart, Actor: events.Actor{ID: "c1", Attributes: map[string]string{LabelEnable: "true"}}}
	fake.msgs <- events.Message{Action: events.ActionStart, Actor: events.Actor{ID: "c2", Attributes: map[string]string{}}}
	fake.msgs <- events.Message{Action: events.ActionDie, Actor: events.Actor{ID: "c1", Attributes: map[string]string{LabelEnable: "true"}}}

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(context.Background(), func(e Event) { got <- e })
	}()

	assert.Equal(t, Event{Action: "start", ContainerID: "c1"}, <-got)
	assert.Equal(t, Event{Action: "die", ContainerID: "c1"}, <-got)

	fake.errs <- errors.New("connection reset")
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after stream error")
	}
	assert.Empty(t, got)
}

func TestWatchStopsOnCancel(t *testing.T) {
	fake := &fakeDocker{msgs: make(chan events.Message), errs: make(chan error)}
	d := &Docker{api: fake, log: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Watch(ctx, func(Event) {})
	assert.ErrorIs(t, err, context.Canceled)
}
