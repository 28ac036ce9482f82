// Package registry loads the apps the dashboard should show.
package registry

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"boardsync/pkg/homarr"
)

// ErrConfig reports an unusable source configuration.
var ErrConfig = errors.New("registry: invalid configuration")

// Source produces desired app entries.
type Source interface {
	Load(ctx context.Context) ([]homarr.AppEntry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]homarr.AppEntry, error)

func (f SourceFunc) Load(ctx context.Context) ([]homarr.AppEntry, error) {
	return f(ctx)
}

// Static is a fixed list of entries.
type Static []homarr.AppEntry

func (s Static) Load(context.Context) ([]homarr.AppEntry, error) {
	return slices.Clone(s), nil
}

// Merged combines several sources. The first source to declare a URL wins.
// A failing source is logged and skipped.
type Merged struct {
	sources []Source
	log     zerolog.Logger
}

// Merge returns a Source that loads from every source in order.
func Merge(log zerolog.Logger, sources ...Source) *Merged {
	return &Merged{sources: sources, log: log}
}

func (m *Merged) Load(ctx context.Context) ([]homarr.AppEntry, error) {
	var all []homarr.AppEntry
	seen := make(map[string]struct{})

	for i, src := range m.sources {
		entries, err := src.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn().Err(err).Int("source", i).Msg("desired entry source failed")
			continue
		}
		for _, e := range entries {
			key := homarr.NormalizeHref(e.URL)
			if _, dup := seen[key]; dup {
				m.log.Debug().Str("url", e.URL).Str("name", e.Name).Msg("duplicate entry ignored")
				continue
			}
			seen[key] = struct{}{}
			all = append(all, e)
		}
	}

	SortByPriority(all)
	return all, nil
}

// SortByPriority orders entries by ascending priority, keeping the input
// order among equal priorities.
func SortByPriority(entries []homarr.AppEntry) {
	slices.SortStableFunc(entries, func(a, b homarr.AppEntry) int {
		return a.Layout.Priority - b.Layout.Priority
	})
}

// Visible drops hidden entries.
func Visible(entries []homarr.AppEntry) []homarr.AppEntry {
	return slices.DeleteFunc(slices.Clone(entries), func(e homarr.AppEntry) bool {
		return e.Hidden
	})
}
