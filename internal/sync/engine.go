package sync

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"caldav2google/internal/model"
	"caldav2google/internal/state"
)

const (
	otelScope       = "caldav2google/sync"
	spanRun         = "sync.run"
	metricCreated   = "caldav2google.sync.events.created"
	metricUpdated   = "caldav2google.sync.events.updated"
	metricDeleted   = "caldav2google.sync.events.deleted"
	metricUnchanged = "caldav2google.sync.events.unchanged"
	metricFailed    = "caldav2google.sync.events.failed"
)

// Phase identifies where a run currently is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseReconciling
	PhaseApplying
	PhaseFlushing
	PhaseDone
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseReconciling:
		return "reconciling"
	case PhaseApplying:
		return "applying"
	case PhaseFlushing:
		return "flushing"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// FailedEvent records one destination call that failed during Apply.
type FailedEvent struct {
	UID string
	Op  string // "create", "update", or "delete"
	Err error
}

// Report summarises one sync run.
type Report struct {
	Created      int
	Updated      int
	Deleted      int
	Unchanged    int
	Failed       int
	FailedEvents []FailedEvent
}

// Engine orchestrates one sync run: fetch from the source, reconcile against
// the state store, apply the change set to the destination, flush the store.
// It is stateless between runs — all persistent state lives in the
// [StateStore]. Failures of individual destination calls are accumulated,
// never fatal; only the initial fetch and the final flush abort a run.
type Engine struct {
	src      Source
	dst      Destination
	store    StateStore
	throttle Throttle
	log      *slog.Logger
	phase    Phase

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntDeleted   metric.Int64Counter
	cntUnchanged metric.Int64Counter
	cntFailed    metric.Int64Counter
}

// NewEngine creates an Engine wired to the given collaborators. A nil
// throttle disables inter-call delays.
func NewEngine(src Source, dst Destination, store StateStore, throttle Throttle, logger *slog.Logger) *Engine {
	if throttle == nil {
		throttle = NoThrottle()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		src:      src,
		dst:      dst,
		store:    store,
		throttle: throttle,
		log:      logger,
		phase:    PhaseIdle,

		tracer:       otel.Tracer(otelScope),
		cntCreated:   mustCounter(metricCreated, "Number of events created at the destination"),
		cntUpdated:   mustCounter(metricUpdated, "Number of events updated at the destination"),
		cntDeleted:   mustCounter(metricDeleted, "Number of events deleted from the destination"),
		cntUnchanged: mustCounter(metricUnchanged, "Number of events left untouched"),
		cntFailed:    mustCounter(metricFailed, "Number of destination calls that failed"),
	}
}

// Phase returns the lifecycle phase of the current (or last) run.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Run performs one full sync pass. The returned Report is valid whenever the
// run got past reconciliation, including when err is a flush failure — in
// that case the on-disk state remains exactly as of the last successful
// flush.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	ctx, span := e.tracer.Start(ctx, spanRun)
	defer span.End()

	e.phase = PhaseFetching
	events, err := e.src.FetchEvents(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("fetching source events: %w", err)
	}
	e.log.Debug("source events fetched", "count", len(events))

	e.phase = PhaseReconciling
	cs, err := Reconcile(events, e.store.All(), e.log)
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("reconciling: %w", err)
	}
	e.log.Debug("change set computed",
		"create", len(cs.ToCreate),
		"update", len(cs.ToUpdate),
		"delete", len(cs.ToDelete),
		"unchanged", cs.Unchanged,
	)

	report, err := e.Apply(ctx, cs)

	e.recordMetrics(ctx, span, report)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	e.log.Info("sync complete",
		"created", report.Created,
		"updated", report.Updated,
		"deleted", report.Deleted,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
	)
	return report, nil
}

// Apply executes the change set against the destination in deterministic
// order: creates, then updates, then deletes. A state record is written only
// after the corresponding destination call succeeded, so the store never
// claims success for a failed operation. One failing event never aborts the
// batch — it is recorded and the batch continues. The store is flushed
// exactly once at the end, durably keeping the successes even when later
// events in the same batch failed.
func (e *Engine) Apply(ctx context.Context, cs *ChangeSet) (Report, error) {
	e.phase = PhaseApplying
	report := Report{Unchanged: cs.Unchanged}

	for _, ev := range cs.ToCreate {
		if err := e.throttle.Wait(ctx); err != nil {
			return report, err
		}
		destID, err := e.dst.CreateEvent(ctx, ev)
		if err != nil {
			e.fail(&report, ev.UID, "create", err)
			continue
		}
		e.store.Upsert(recordFor(ev, destID))
		report.Created++
		e.log.Debug("event created", "uid", ev.UID, "destination_id", destID)
	}

	for _, pair := range cs.ToUpdate {
		if err := e.throttle.Wait(ctx); err != nil {
			return report, err
		}
		destID := pair.Record.DestinationID
		if err := e.dst.UpdateEvent(ctx, destID, pair.Event); err != nil {
			e.fail(&report, pair.Event.UID, "update", err)
			continue
		}
		e.store.Upsert(recordFor(pair.Event, destID))
		report.Updated++
		e.log.Debug("event updated", "uid", pair.Event.UID, "destination_id", destID)
	}

	for _, rec := range cs.ToDelete {
		if err := e.throttle.Wait(ctx); err != nil {
			return report, err
		}
		if err := e.dst.DeleteEvent(ctx, rec.DestinationID); err != nil {
			e.fail(&report, rec.UID, "delete", err)
			continue
		}
		e.store.Remove(rec.UID)
		report.Deleted++
		e.log.Debug("event deleted", "uid", rec.UID, "destination_id", rec.DestinationID)
	}

	e.phase = PhaseFlushing
	if err := e.store.Flush(ctx); err != nil {
		return report, fmt.Errorf("flushing sync state: %w", err)
	}

	e.phase = PhaseDone
	return report, nil
}

// fail records one failed destination call into the report.
func (e *Engine) fail(report *Report, uid, op string, err error) {
	e.log.Error("destination call failed", "op", op, "uid", uid, "error", err)
	report.Failed++
	report.FailedEvents = append(report.FailedEvents, FailedEvent{UID: uid, Op: op, Err: err})
}

func (e *Engine) recordMetrics(ctx context.Context, span trace.Span, report Report) {
	if report.Created > 0 {
		e.cntCreated.Add(ctx, int64(report.Created))
	}
	if report.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(report.Updated))
	}
	if report.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(report.Deleted))
	}
	if report.Unchanged > 0 {
		e.cntUnchanged.Add(ctx, int64(report.Unchanged))
	}
	if report.Failed > 0 {
		e.cntFailed.Add(ctx, int64(report.Failed))
	}

	span.SetAttributes(
		attribute.Int("sync.created", report.Created),
		attribute.Int("sync.updated", report.Updated),
		attribute.Int("sync.deleted", report.Deleted),
		attribute.Int("sync.unchanged", report.Unchanged),
		attribute.Int("sync.failed", report.Failed),
	)
}

// recordFor builds the state snapshot for an event that was just pushed.
func recordFor(ev model.Event, destinationID string) state.Record {
	return state.Record{
		UID:           ev.UID,
		Summary:       ev.Summary,
		Description:   ev.Description,
		Location:      ev.Location,
		Start:         ev.Start,
		End:           ev.End,
		LastModified:  ev.LastModified,
		DestinationID: destinationID,
	}
}
