// Package reconciler brings the dashboard boards in line with the desired
// app entries, one cycle at a time.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boardsync/pkg/homarr"
	"boardsync/pkg/placement"
	"boardsync/services/onboarding"
	"boardsync/services/registry"
	"boardsync/services/state"
)

// Report summarizes one cycle.
type Report struct {
	Boards    int `json:"boards"`
	Entries   int `json:"entries"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Placed    int `json:"placed"`
	Skipped   int `json:"skipped"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Config selects the target boards.
type Config struct {
	// BoardName restricts the cycle to one board. When empty every board the
	// credential may modify is a target.
	BoardName string
}

// Reconciler runs sync cycles. A Reconciler must not run two cycles at once.
type Reconciler struct {
	setup  *onboarding.Setup
	store  *state.Store
	source registry.Source
	cfg    Config
	log    zerolog.Logger
	tracer trace.Tracer

	// Now returns the current time; tests replace it.
	Now func() time.Time
}

// New returns a reconciler that syncs the entries of source.
func New(setup *onboarding.Setup, store *state.Store, source registry.Source, cfg Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		setup:  setup,
		store:  store,
		source: source,
		cfg:    cfg,
		log:    log,
		tracer: otel.Tracer("boardsync/reconciler"),
		Now:    time.Now,
	}
}

type target struct {
	ID   string
	Name string
}

// Run executes one cycle: authenticate, pick the target boards, then upsert
// and place every visible entry. Entry failures are counted in the report and
// never abort the cycle. The state is saved once at the end.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.cycle")
	defer span.End()

	st, err := r.store.Load()
	switch {
	case errors.Is(err, state.ErrStateCorrupt):
		r.log.Warn().Err(err).Msg("starting from empty state")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "load state")
		return Report{}, err
	}

	client, err := r.setup.Ensure(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authenticate")
		if saveErr := r.store.Save(st); saveErr != nil {
			r.log.Warn().Err(saveErr).Msg("failed to save state")
		}
		return Report{}, err
	}

	report, cycleErr := r.sync(ctx, client, st)
	if cycleErr == nil {
		st.Touch(r.Now())
	}
	if err := r.store.Save(st); err != nil {
		cycleErr = errors.Join(cycleErr, fmt.Errorf("save state: %w", err))
	}

	span.SetAttributes(
		attribute.Int("boards", report.Boards),
		attribute.Int("entries", report.Entries),
		attribute.Int("placed", report.Placed),
		attribute.Int("failed", report.Failed),
	)
	if cycleErr != nil {
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, "sync")
	}
	return report, cycleErr
}

func (r *Reconciler) sync(ctx context.Context, client *homarr.Client, st *state.State) (Report, error) {
	var report Report

	targets, err := r.targets(ctx, client)
	if err != nil {
		return report, err
	}
	report.Boards = len(targets)
	if len(targets) == 0 {
		r.log.Warn().Msg("no target boards, nothing to sync")
		return report, nil
	}

	apps, err := client.AllApps(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to fetch existing apps")
	}
	known := &catalog{apps: apps, complete: err == nil}

	entries, err := r.source.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load desired entries: %w", err)
	}
	entries = registry.Visible(entries)
	report.Entries = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.syncEntry(ctx, client, st, targets, known, entry, &report); err != nil {
			report.Failed++
			r.log.Warn().Err(err).Str("app", entry.Name).Str("url", entry.URL).Msg("failed to sync app")
		}
	}

	r.log.Info().
		Int("boards", report.Boards).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("placed", report.Placed).
		Int("removed", report.Removed).
		Int("failed", report.Failed).
		Msg("sync complete")
	return report, nil
}

// targets resolves the boards of this cycle. Any failure leaves the cycle
// without targets; the next trigger tries again.
func (r *Reconciler) targets(ctx context.Context, client *homarr.Client) ([]target, error) {
	if r.cfg.BoardName != "" {
		board, err := client.BoardByName(ctx, r.cfg.BoardName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn().Err(err).Str("board", r.cfg.BoardName).Msg("target board unavailable")
			return nil, nil
		}
		return []target{{ID: board.ID, Name: board.Name}}, nil
	}

	boards, err := client.WritableBoards(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn().Err(err).Msg("failed to list writable boards")
		return nil, nil
	}
	targets := make([]target, 0, len(boards))
	for _, b := range boards {
		targets = append(targets, target{ID: b.ID, Name: b.Name})
	}
	return targets, nil
}

// catalog is the list of dashboard apps fetched once per cycle. complete is
// false when the fetch failed, so a missing href proves nothing.
type catalog struct {
	apps     []homarr.RemoteApp
	complete bool
}

func (r *Reconciler) syncEntry(ctx context.Context, client *homarr.Client, st *state.State, targets []target, known *catalog, entry homarr.AppEntry, report *Report) (err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.entry", trace.WithAttributes(
		attribute.String("app.name", entry.Name),
		attribute.String("app.url", entry.URL),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "entry failed")
		}
		span.End()
	}()

	if err := entry.Validate(); err != nil {
		return err
	}

	pending := make([]target, 0, len(targets))
	for _, t := range targets {
		if st.IsRemoved(t.ID, entry.URL) {
			r.log.Debug().Str("app", entry.Name).Str("board", t.Name).Msg("removed by user, skipping")
			report.Skipped++
			continue
		}
		pending = append(pending, t)
	}

	// The user deleted the app itself: every board it was placed on counts
	// as a removal, and it is not created again for those boards.
	if _, found := homarr.FindByHref(known.apps, entry.URL); !found && known.complete {
		pending = slices.DeleteFunc(pending, func(t target) bool {
			if !st.WasPlaced(entry.URL, t.ID) {
				return false
			}
			r.recordRemoval(st, t, entry, report)
			return true
		})
	}
	if len(pending) == 0 {
		return nil
	}

	appID, err := r.upsertApp(ctx, client, known, entry, report)
	if err != nil {
		return err
	}

	containerID := entry.ContainerID
	if containerID == "" {
		containerID = entry.ContainerName
	}
	st.RecordApp(entry.URL, entry.Name, containerID, r.Now())

	var errs []error
	for _, t := range pending {
		if err := r.place(ctx, client, st, t, appID, entry, report); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn().Err(err).Str("app", entry.Name).Str("board", t.Name).Msg("failed to place app")
			errs = append(errs, fmt.Errorf("board %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) upsertApp(ctx context.Context, client *homarr.Client, known *catalog, entry homarr.AppEntry, report *Report) (string, error) {
	spec := client.AppSpecFor(entry)

	existing, found := homarr.FindByHref(known.apps, entry.URL)
	if found && sameApp(existing, spec) {
		report.Unchanged++
		return existing.ID, nil
	}

	id, err := client.UpsertApp(ctx, existing.ID, spec)
	if err != nil {
		return "", err
	}

	updated := homarr.RemoteApp{
		ID:          id,
		Name:        spec.Name,
		Description: spec.Description,
		IconURL:     spec.IconURL,
		Href:        spec.Href,
		PingURL:     spec.PingURL,
	}
	if found {
		report.Updated++
		for i := range known.apps {
			if known.apps[i].ID == id {
				known.apps[i] = updated
			}
		}
		r.log.Info().Str("app", entry.Name).Str("app_id", id).Msg("updated app")
	} else {
		report.Created++
		known.apps = append(known.apps, updated)
		r.log.Info().Str("app", entry.Name).Str("app_id", id).Msg("created app")
	}
	return id, nil
}

func sameApp(remote homarr.RemoteApp, spec homarr.AppSpec) bool {
	return remote.Name == spec.Name &&
		remote.Description == spec.Description &&
		remote.IconURL == spec.IconURL &&
		remote.Href == spec.Href &&
		remote.PingURL == spec.PingURL
}

// place puts the app on one board unless it is already there. An item the
// reconciler placed earlier that has since disappeared was deleted by the
// user; the removal is recorded instead of placing the app again.
func (r *Reconciler) place(ctx context.Context, client *homarr.Client, st *state.State, t target, appID string, entry homarr.AppEntry, report *Report) error {
	board, err := client.BoardByName(ctx, t.Name)
	if err != nil {
		return err
	}

	if _, ok := board.FindAppItem(appID); ok {
		st.RecordPlacement(entry.URL, board.ID)
		report.Skipped++
		return nil
	}

	if st.WasPlaced(entry.URL, board.ID) {
		r.recordRemoval(st, t, entry, report)
		return nil
	}

	layoutID := board.PrimaryLayoutID()
	width, height := entry.Layout.Size()
	x, y, explicit := entry.Layout.Explicit()
	if !explicit {
		x, y = placement.NextFor(board.Occupied(layoutID), board.ColumnCount(), width)
	}

	item := homarr.NewAppItem(appID, homarr.ItemLayout{
		LayoutID:  layoutID,
		SectionID: board.PrimarySectionID(),
		Width:     width,
		Height:    height,
		XOffset:   x,
		YOffset:   y,
	})
	items := append(board.Items[:len(board.Items):len(board.Items)], item)
	if err := client.SaveBoardItems(ctx, board, items); err != nil {
		return err
	}

	st.RecordPlacement(entry.URL, board.ID)
	report.Placed++
	r.log.Info().Str("app", entry.Name).Str("board", board.Name).Int("x", x).Int("y", y).Msg("placed app")
	return nil
}

func (r *Reconciler) recordRemoval(st *state.State, t target, entry homarr.AppEntry, report *Report) {
	st.MarkRemoved(t.ID, entry.URL)
	st.ForgetPlacement(entry.URL, t.ID)
	report.Removed++
	r.log.Info().Str("app", entry.Name).Str("board", t.Name).Msg("app was removed by user, will not re-add")
}
