// Package discovery finds apps advertised by running Docker containers
// through homarr.* labels and reports container lifecycle events.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"boardsync/pkg/homarr"
)

const (
	LabelEnable      = "homarr.enable"
	LabelName        = "homarr.name"
	LabelURL         = "homarr.url"
	LabelDescription = "homarr.description"
	LabelIcon        = "homarr.icon"
	LabelCategory    = "homarr.category"
	LabelPriority    = "homarr.priority"
	LabelHidden      = "homarr.hidden"

	composeServiceLabel = "com.docker.compose.service"
	selfName            = "homarr"
)

// dockerAPI is the part of the Docker client used here.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	Close() error
}

// Event is a container lifecycle change of a labelled container.
type Event struct {
	Action      string
	ContainerID string
}

// Docker discovers apps from the Docker daemon.
type Docker struct {
	api dockerAPI
	log zerolog.Logger
}

// New connects to the daemon at host, or to the one described by the
// DOCKER_* environment when host is empty.
func New(host string, log zerolog.Logger) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{api: cli, log: log}, nil
}

// Close releases the client connection.
func (d *Docker) Close() error {
	return d.api.Close()
}

// Load returns an entry for every running container labelled homarr.enable=true.
func (d *Docker) Load(ctx context.Context) ([]homarr.AppEntry, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", LabelEnable+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var entries []homarr.AppEntry
	for _, c := range containers {
		entry, ok := ParseLabels(c.ID, c.Labels)
		if !ok {
			continue
		}
		d.log.Debug().Str("container", entry.ContainerName).Str("url", entry.URL).Msg("discovered app")
		entries = append(entries, entry)
	}

	d.log.Info().Int("count", len(entries)).Msg("discovered apps from docker")
	return entries, nil
}

// ParseLabels builds an entry from container labels. It reports false when
// the container is not enabled, lacks a name or URL, or is the dashboard itself.
func ParseLabels(containerID string, labels map[string]string) (homarr.AppEntry, bool) {
	if labels[LabelEnable] != "true" {
		return homarr.AppEntry{}, false
	}
	name := strings.TrimSpace(labels[LabelName])
	url := strings.TrimSpace(labels[LabelURL])
	if name == "" || url == "" || strings.EqualFold(name, selfName) {
		return homarr.AppEntry{}, false
	}

	containerName := labels[composeServiceLabel]
	if containerName == "" {
		containerName = shortID(containerID)
	}

	entry := homarr.AppEntry{
		Name:          name,
		URL:           url,
		Description:   labels[LabelDescription],
		IconURL:       labels[LabelIcon],
		Category:      labels[LabelCategory],
		Kind:          homarr.KindContainer,
		ContainerName: containerName,
		ContainerID:   containerID,
		Hidden:        labels[LabelHidden] == "true",
		Layout:        homarr.EntryLayout{Priority: homarr.DefaultPriority},
	}
	if p, err := strconv.Atoi(labels[LabelPriority]); err == nil {
		entry.Layout.Priority = p
	}
	return entry, true
}

// Watch streams start, stop and die events of labelled containers to fn
// until ctx is done or the event stream fails.
func (d *Docker) Watch(ctx context.Context, fn func(Event)) error {
	msgs, errs := d.api.Events(ctx, events.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("event", string(events.ActionStart)),
			filters.Arg("event", string(events.ActionStop)),
			filters.Arg("event", string(events.ActionDie)),
		),
	})

	d.log.Info().Msg("watching docker events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err == nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("docker event stream: %w", err)
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			if msg.Actor.ID == "" || msg.Actor.Attributes[LabelEnable] != "true" {
				continue
			}
			d.log.Debug().Str("action", string(msg.Action)).Str("container", shortID(msg.Actor.ID)).Msg("docker event")
			fn(Event{Action: string(msg.Action), ContainerID: msg.Actor.ID})
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
