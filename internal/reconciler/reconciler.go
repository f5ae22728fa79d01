package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"calmerge/internal/filter"
	"calmerge/internal/logging"
	"calmerge/internal/matcher"
	"calmerge/internal/models"
)

// EventStore is the calendar backend the reconciler reads from and writes to.
//
// Errors wrapping *models.TransportError abort the merge. Any other error
// from ImportEvent or DeleteEvent only fails that one event.
type EventStore interface {
	// ListEvents returns every event of the calendar, following pagination.
	ListEvents(ctx context.Context, calendarID string) ([]models.Event, error)
	// ImportEvent creates or updates e in the calendar and returns the stored event.
	ImportEvent(ctx context.Context, calendarID string, e models.Event) (models.Event, error)
	// DeleteEvent removes the event with the given store ID.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Options controls a merge.
type Options struct {
	ExcludePatterns   []string
	Censor            bool
	CensorName        string
	CensorDescription string
	// Delete removes destination events that match no source event.
	Delete bool
	// Verbose logs every decision and failure at info level.
	Verbose bool
	// DryRun computes what would change without writing anything.
	DryRun bool
	// Workers bounds the number of concurrent add/delete calls.
	Workers int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		CensorName: filter.DefaultCensorName,
		Delete:     true,
		Workers:    1,
	}
}

// Reconciler merges source calendars into a destination calendar.
type Reconciler struct {
	store    EventStore
	logger   *slog.Logger
	pipeline *filter.Pipeline
	opts     Options
}

// New creates a Reconciler. Invalid options are reported as *models.ConfigurationError.
func New(store EventStore, logger *slog.Logger, opts Options) (*Reconciler, error) {
	if store == nil {
		return nil, models.NewConfigurationError("event store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	if opts.Workers < 0 {
		return nil, models.NewConfigurationError(fmt.Sprintf("workers must be positive, got %d", opts.Workers))
	}

	pipeline, err := filter.New(filter.Options{
		ExcludePatterns:   opts.ExcludePatterns,
		Censor:            opts.Censor,
		CensorName:        opts.CensorName,
		CensorDescription: opts.CensorDescription,
	})
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		store:    store,
		logger:   logger,
		pipeline: pipeline,
		opts:     opts,
	}, nil
}

// Reconcile performs one merge of sources into destination.
//
// Configuration and transport errors are returned with a nil Result. Failed
// adds and deletes are recorded in the Result. If ctx is cancelled while
// changes are being applied, no further calls are issued and the partial
// Result is returned together with ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, sources []string, destination string) (*Result, error) {
	if err := validateCalendars(sources, destination); err != nil {
		return nil, err
	}

	r.logger.Info("Starting merge.", "sources", len(sources), logging.Calendar(destination))

	var sourceEvents []models.Event
	for _, id := range sources {
		events, err := r.store.ListEvents(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch source calendar %s: %w", id, err)
		}
		r.logger.Debug("Fetched source events.", logging.Calendar(id), "count", len(events))
		sourceEvents = append(sourceEvents, events...)
	}

	destEvents, err := r.store.ListEvents(ctx, destination)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch destination calendar %s: %w", destination, err)
	}

	candidates := r.pipeline.Apply(sourceEvents)
	toAdd, toRemove := matcher.Match(candidates.Events, candidates.Originals, destEvents)

	result := &Result{
		SourceEvents:      len(sourceEvents),
		DestinationEvents: len(destEvents),
		Candidates:        candidates.Len(),
		ToAdd:             toAdd,
		ToRemove:          toRemove,
		DryRun:            r.opts.DryRun,
	}

	if r.opts.DryRun {
		for _, e := range toAdd {
			r.logDecision("[DRY RUN] Would import event.", e)
		}
		for _, e := range toRemove {
			r.logDecision("[DRY RUN] Would remove event.", e)
		}
		r.logSummary(result)
		return result, nil
	}

	added, err := r.applyAll(ctx, opAdd, toAdd, func(ctx context.Context, e models.Event) error {
		_, err := r.store.ImportEvent(ctx, destination, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	result.record(opAdd, added)

	if ctx.Err() != nil {
		if r.opts.Delete {
			result.Skipped += len(toRemove)
		}
		r.logSummary(result)
		return result, ctx.Err()
	}

	if !r.opts.Delete {
		for _, e := range toRemove {
			r.logDecision("Keeping event missing from sources, deletion disabled.", e)
		}
		r.logSummary(result)
		return result, nil
	}

	removed, err := r.applyAll(ctx, opDelete, toRemove, func(ctx context.Context, e models.Event) error {
		if e.ID == "" {
			return errors.New("event has no id")
		}
		return r.store.DeleteEvent(ctx, destination, e.ID)
	})
	if err != nil {
		return nil, err
	}
	result.DeletesApplied = true
	result.record(opDelete, removed)

	r.logSummary(result)
	return result, ctx.Err()
}

// applyAll runs fn for every event on at most Workers goroutines.
// Per-event failures are recorded in the returned outcomes; a transport error
// stops issuing new calls and is returned. Calls already in flight are not
// cancelled by ctx.
func (r *Reconciler) applyAll(ctx context.Context, op string, events []models.Event, fn func(context.Context, models.Event) error) ([]outcome, error) {
	outcomes := make([]outcome, len(events))
	if len(events) == 0 {
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	callCtx := context.WithoutCancel(ctx)

	for i, e := range events {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := fn(callCtx, e)
			outcomes[i] = outcome{attempted: true, err: err}
			if err != nil && models.IsTransport(err) {
				return fmt.Errorf("failed to %s event %q: %w", op, e.Summary, err)
			}
			r.logOutcome(op, e, err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range outcomes {
		outcomes[i].event = events[i]
	}
	return outcomes, nil
}

func (r *Reconciler) level() slog.Level {
	if r.opts.Verbose {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (r *Reconciler) logDecision(msg string, e models.Event) {
	r.logger.LogAttrs(context.Background(), r.level(), msg,
		logging.Event(e.Summary), logging.Start(e.Start.String()), logging.EventID(e.ID))
}

func (r *Reconciler) logOutcome(op string, e models.Event, err error) {
	switch {
	case err != nil && r.opts.Verbose:
		r.logger.Warn("Failed to apply change.", logging.Operation(op), logging.Event(e.Summary), logging.Err(err))
	case err != nil:
		r.logger.Debug("Failed to apply change.", logging.Operation(op), logging.Event(e.Summary), logging.Err(err))
	case op == opAdd:
		r.logger.LogAttrs(context.Background(), r.level(), "Imported event.",
			logging.Event(e.Summary), logging.Start(e.Start.String()), slog.String("from", e.Calendar))
	default:
		r.logger.LogAttrs(context.Background(), r.level(), "Removed event.",
			logging.Event(e.Summary), logging.EventID(e.ID))
	}
}

func (r *Reconciler) logSummary(res *Result) {
	r.logger.Info("Merge finished.",
		"to_add", len(res.ToAdd),
		"to_remove", len(res.ToRemove),
		"added", res.Added,
		"add_failed", res.AddFailed,
		"removed", res.Removed,
		"remove_failed", res.RemoveFailed,
		"skipped", res.Skipped,
		"dry_run", res.DryRun,
	)
}

func validateCalendars(sources []string, destination string) error {
	var problems []string
	if len(sources) == 0 {
		problems = append(problems, "at least one source calendar is required")
	}
	if strings.TrimSpace(destination) == "" {
		problems = append(problems, "destination calendar is required")
	}
	for _, s := range sources {
		if strings.TrimSpace(s) == "" {
			problems = append(problems, "source calendar IDs must not be empty")
			break
		}
	}
	if destination != "" && slices.Contains(sources, destination) {
		problems = append(problems, fmt.Sprintf("destination %s is also listed as a source", destination))
	}
	if len(problems) > 0 {
		return models.NewConfigurationError(problems...)
	}
	return nil
}
