// Package pipeline drives a note submission from validation to persisted
// record:
//
//	received -> validated -> (transcribed) -> extracted -> persisted -> responded
//
// Any step may end in failed, tagged with the faults.Kind of the stage that
// broke. Writes happen in the order records, moods, inspirations, todos and
// are not rolled back; a record saved before a later write fails stays on
// disk.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/events"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/gateway"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/fyrsmithlabs/voicenote/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName is the tracer scope for pipeline spans.
const InstrumentationName = "github.com/fyrsmithlabs/voicenote/internal/pipeline"

// Store is the persistence the pipeline writes to.
type Store interface {
	SaveRecord(ctx context.Context, rec note.Record) (string, error)
	AppendMood(ctx context.Context, mood *note.Mood, recordID, timestamp string) error
	AppendInspirations(ctx context.Context, items []note.Inspiration, recordID, timestamp string) error
	AppendTodos(ctx context.Context, items []note.Todo, recordID, timestamp string) error
}

// Response is the result of a successful submission. It is built from the
// same extraction result that was persisted.
type Response struct {
	RecordID     string             `json:"record_id"`
	Timestamp    string             `json:"timestamp"`
	Mood         *note.Mood         `json:"mood"`
	Inspirations []note.Inspiration `json:"inspirations"`
	Todos        []note.Todo        `json:"todos"`
}

// Options configures an Orchestrator.
type Options struct {
	Validator *validation.Validator
	Gateways  gateway.Provider
	Store     Store
	Events    events.Publisher // nil disables events
	Tracer    trace.Tracer     // nil uses the global provider
	Logger    *logging.Logger
	Clock     func() time.Time // nil uses time.Now
}

// Orchestrator runs submissions through the pipeline. It is safe for
// concurrent use; each call is independent.
type Orchestrator struct {
	validator *validation.Validator
	gateways  gateway.Provider
	store     Store
	events    events.Publisher
	tracer    trace.Tracer
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Validator == nil {
		return nil, errors.New("validator required")
	}
	if opts.Gateways == nil {
		return nil, errors.New("gateway provider required")
	}
	if opts.Store == nil {
		return nil, errors.New("store required")
	}

	o := &Orchestrator{
		validator: opts.Validator,
		gateways:  opts.Gateways,
		store:     opts.Store,
		events:    opts.Events,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(InstrumentationName)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	o.logger = o.logger.Named("pipeline")
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Process validates in, transcribes audio, extracts structured content and
// persists the record with its derived entries. Errors are *faults.Error.
func (o *Orchestrator) Process(ctx context.Context, in validation.Input) (*Response, error) {
	if logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	r := newRun(o.logger)
	resp, err := o.process(ctx, r, in)

	span.SetAttributes(attribute.String("pipeline.input_type", r.inputType))
	if err != nil {
		kind := faults.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		span.SetAttributes(attribute.String("pipeline.failure_kind", string(kind)))
		RequestsTotal.WithLabelValues(r.inputType, string(kind)).Inc()

		fields := []zap.Field{
			zap.String("kind", string(kind)),
			zap.String("input_type", r.inputType),
			zap.Duration("duration", time.Since(r.start)),
		}
		if kind == faults.KindValidation {
			o.logger.Info(ctx, "submission rejected", append(fields, zap.String("reason", faults.PublicMessage(err)))...)
		} else {
			o.logger.Error(ctx, "pipeline failed", append(fields, zap.Error(err), zap.Bool("timeout", faults.IsTimeout(err)))...)
		}
		return nil, err
	}

	RequestsTotal.WithLabelValues(r.inputType, "success").Inc()
	return resp, nil
}

func (o *Orchestrator) process(ctx context.Context, r *run, in validation.Input) (*Response, error) {
	stageStart := time.Now()
	v, err := o.validator.Validate(in)
	StageDuration.WithLabelValues(stageValidate).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return nil, r.fail(ctx, faults.KindValidation, err)
	}
	r.inputType = string(v.Type)
	r.advance(ctx, StateValidated)

	text := v.Text
	if v.Type == note.InputAudio {
		text, err = o.transcribe(ctx, v)
		if err != nil {
			return nil, r.fail(ctx, faults.KindTranscription, err)
		}
		r.advance(ctx, StateTranscribed)
	}

	parsed, err := o.extract(ctx, text)
	if err != nil {
		return nil, r.fail(ctx, faults.KindSemanticExtraction, err)
	}
	r.advance(ctx, StateExtracted)

	rec := note.Record{
		Timestamp:    note.Timestamp(o.now()),
		InputType:    v.Type,
		OriginalText: text,
		ParsedData:   parsed,
	}
	rec.RecordID, err = o.persist(ctx, rec)
	if rec.RecordID != "" {
		ctx = logging.WithRecordID(ctx, rec.RecordID)
	}
	if err != nil {
		return nil, r.fail(ctx, faults.KindStorage, err)
	}
	r.advance(ctx, StatePersisted)

	if err := o.events.PublishRecordCreated(ctx, events.NewRecordCreated(rec)); err != nil {
		o.logger.Warn(ctx, "record event publish failed", zap.Error(err))
	}

	resp := &Response{
		RecordID:     rec.RecordID,
		Timestamp:    rec.Timestamp,
		Mood:         parsed.Mood,
		Inspirations: parsed.Inspirations,
		Todos:        parsed.Todos,
	}
	r.advance(ctx, StateResponded)

	o.logger.Info(ctx, "note processed",
		zap.String("input_type", r.inputType),
		zap.Bool("mood", parsed.Mood != nil),
		zap.Int("inspirations", len(parsed.Inspirations)),
		zap.Int("todos", len(parsed.Todos)),
		logging.TextLength("text", text),
		zap.Duration("duration", time.Since(r.start)),
	)
	return resp, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, v *validation.Validated) (string, error) {
	ctx, span := o.startStage(ctx, stageTranscribe)
	defer span.End()
	start := time.Now()
	defer func() { StageDuration.WithLabelValues(stageTranscribe).Observe(time.Since(start).Seconds()) }()

	tr, err := o.gateways.NewTranscriber(ctx)
	if err != nil {
		endWithError(span, err)
		return "", err
	}
	defer closeClient(ctx, o.logger, "transcriber", tr)

	span.SetAttributes(attribute.Int("audio.size", len(v.Audio)))
	text, err := tr.Transcribe(ctx, v.Audio, v.Filename)
	if err != nil {
		endWithError(span, err)
		return "", err
	}
	return text, nil
}

func (o *Orchestrator) extract(ctx context.Context, text string) (note.ParsedData, error) {
	ctx, span := o.startStage(ctx, stageExtract)
	defer span.End()
	start := time.Now()
	defer func() { StageDuration.WithLabelValues(stageExtract).Observe(time.Since(start).Seconds()) }()

	ex, err := o.gateways.NewExtractor(ctx)
	if err != nil {
		endWithError(span, err)
		return note.ParsedData{}, err
	}
	defer closeClient(ctx, o.logger, "extractor", ex)

	parsed, err := ex.Extract(ctx, text)
	if err != nil {
		endWithError(span, err)
		return note.ParsedData{}, err
	}
	parsed.Normalize()
	span.SetAttributes(
		attribute.Bool("extraction.mood", parsed.Mood != nil),
		attribute.Int("extraction.inspirations", len(parsed.Inspirations)),
		attribute.Int("extraction.todos", len(parsed.Todos)),
	)
	return parsed, nil
}

// persist writes the record and then each derived collection. The returned
// id is set even when a later write fails.
func (o *Orchestrator) persist(ctx context.Context, rec note.Record) (string, error) {
	ctx, span := o.startStage(ctx, stagePersist)
	defer span.End()
	start := time.Now()
	defer func() { StageDuration.WithLabelValues(stagePersist).Observe(time.Since(start).Seconds()) }()

	id, err := o.store.SaveRecord(ctx, rec)
	if err != nil {
		endWithError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("record.id", id))

	p := rec.ParsedData
	if err := o.store.AppendMood(ctx, p.Mood, id, rec.Timestamp); err != nil {
		endWithError(span, err)
		return id, err
	}
	if err := o.store.AppendInspirations(ctx, p.Inspirations, id, rec.Timestamp); err != nil {
		endWithError(span, err)
		return id, err
	}
	if err := o.store.AppendTodos(ctx, p.Todos, id, rec.Timestamp); err != nil {
		endWithError(span, err)
		return id, err
	}
	return id, nil
}

func (o *Orchestrator) startStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(attribute.String("pipeline.stage", stage)))
}

func endWithError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(faults.KindOf(err)))
	if faults.IsTimeout(err) {
		span.SetAttributes(attribute.Bool("timeout", true))
	}
}

type closer interface {
	Close() error
}

func closeClient(ctx context.Context, logger *logging.Logger, name string, c closer) {
	if err := c.Close(); err != nil {
		logger.Warn(ctx, "failed to close gateway client", zap.String("client", name), zap.Error(err))
	}
}
