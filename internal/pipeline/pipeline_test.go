package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/events"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/gateway"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/fyrsmithlabs/voicenote/internal/store"
	"github.com/fyrsmithlabs/voicenote/internal/telemetry"
	"github.com/fyrsmithlabs/voicenote/internal/validation"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var fixedNow = time.Date(2026, 10, 18, 8, 30, 0, 123456000, time.UTC)

const fixedTimestamp = "2026-10-18T08:30:00.123456Z"

// fakeProvider counts client construction and calls.
type fakeProvider struct {
	transcript    string
	transcribeErr error
	parsed        note.ParsedData
	extractErr    error
	newErr        error

	transcribers    atomic.Int32
	extractors      atomic.Int32
	transcribeCalls atomic.Int32
	extractCalls    atomic.Int32
	closed          atomic.Int32

	mu       sync.Mutex
	gotText  string
	gotAudio string
}

func (p *fakeProvider) NewTranscriber(context.Context) (gateway.Transcriber, error) {
	p.transcribers.Add(1)
	if p.newErr != nil {
		return nil, p.newErr
	}
	return &fakeTranscriber{p: p}, nil
}

func (p *fakeProvider) NewExtractor(context.Context) (gateway.Extractor, error) {
	p.extractors.Add(1)
	return &fakeExtractor{p: p}, nil
}

type fakeTranscriber struct{ p *fakeProvider }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, filename string) (string, error) {
	f.p.transcribeCalls.Add(1)
	f.p.mu.Lock()
	f.p.gotAudio = filename
	f.p.mu.Unlock()
	return f.p.transcript, f.p.transcribeErr
}

func (f *fakeTranscriber) Close() error {
	f.p.closed.Add(1)
	return nil
}

type fakeExtractor struct{ p *fakeProvider }

func (f *fakeExtractor) Extract(_ context.Context, text string) (note.ParsedData, error) {
	f.p.extractCalls.Add(1)
	f.p.mu.Lock()
	f.p.gotText = text
	f.p.mu.Unlock()
	if f.p.extractErr != nil {
		return note.ParsedData{}, f.p.extractErr
	}
	return f.p.parsed, nil
}

func (f *fakeExtractor) Close() error {
	f.p.closed.Add(1)
	return nil
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.RecordCreated
	err    error
}

func (r *recordingPublisher) PublishRecordCreated(_ context.Context, ev events.RecordCreated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

// failingTodos breaks the last write of the persist stage.
type failingTodos struct {
	*store.Store
}

func (f failingTodos) AppendTodos(context.Context, []note.Todo, string, string) error {
	return faults.Storage(errors.New("disk full"))
}

type harness struct {
	orch      *Orchestrator
	store     *store.Store
	dir       string
	provider  *fakeProvider
	publisher *recordingPublisher
	logger    *logging.TestLogger
	tel       *telemetry.TestTelemetry
}

func newHarness(t *testing.T, provider *fakeProvider) *harness {
	t.Helper()
	return newHarnessWithStore(t, provider, nil)
}

func newHarnessWithStore(t *testing.T, provider *fakeProvider, wrap func(*store.Store) Store) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewTestLogger()
	tel := telemetry.NewTestTelemetry()

	st, err := store.New(dir, logger.Logger)
	require.NoError(t, err)

	var s Store = st
	if wrap != nil {
		s = wrap(st)
	}

	pub := &recordingPublisher{}
	orch, err := New(Options{
		Validator: validation.New(config.AudioConfig{MaxSize: config.ByteSize(1024)}),
		Gateways:  provider,
		Store:     s,
		Events:    pub,
		Tracer:    tel.Tracer(InstrumentationName),
		Logger:    logger.Logger,
		Clock:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return &harness{orch: orch, store: st, dir: dir, provider: provider, publisher: pub, logger: logger, tel: tel}
}

func (h *harness) readCollection(t *testing.T, name string, v any) bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, name+".json"))
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
	return true
}

func happyMood() note.ParsedData {
	return note.ParsedData{
		Mood:         &note.Mood{Type: note.StringPtr("喜悦"), Intensity: note.IntPtr(8), Keywords: []string{"开心"}},
		Inspirations: []note.Inspiration{},
		Todos:        []note.Todo{},
	}
}

func TestProcess_TextAddsOneRecord(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	resp, err := h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
	require.NoError(t, err)

	records, err := h.store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.RecordID, records[0].RecordID)
	assert.Equal(t, resp.Timestamp, records[0].Timestamp)
	assert.Equal(t, fixedTimestamp, resp.Timestamp)
	assert.Equal(t, "今天很开心", records[0].OriginalText)
	assert.Equal(t, note.InputText, records[0].InputType)

	assert.Equal(t, int32(0), h.provider.transcribers.Load(), "text skips transcription")
	assert.Equal(t, "今天很开心", h.provider.gotText)
}

func TestProcess_MoodEntryMatchesRecord(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})

	resp, err := h.orch.Process(context.Background(), validation.Input{Text: "今天很开心"})
	require.NoError(t, err)

	var moods []note.MoodEntry
	require.True(t, h.readCollection(t, store.CollectionMoods, &moods))
	require.Len(t, moods, 1)
	assert.Equal(t, resp.RecordID, moods[0].RecordID)
	assert.Equal(t, resp.Timestamp, moods[0].Timestamp)
	assert.Equal(t, "喜悦", *moods[0].Type)
	assert.Equal(t, 8, *moods[0].Intensity)
}

func TestProcess_EmptyInspirationsLeaveCollectionAlone(t *testing.T) {
	withIdea := happyMood()
	withIdea.Inspirations = []note.Inspiration{{CoreIdea: "晚霞", Tags: []string{"自然"}, Category: note.CategoryLife}}

	provider := &fakeProvider{parsed: happyMood()}
	h := newHarness(t, provider)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(h.dir, "inspirations.json"))
	assert.True(t, os.IsNotExist(err), "inspirations collection not created")

	provider.parsed = withIdea
	_, err = h.orch.Process(ctx, validation.Input{Text: "看到晚霞"})
	require.NoError(t, err)
	path := filepath.Join(h.dir, "inspirations.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)

	provider.parsed = happyMood()
	_, err = h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
	require.NoError(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

func TestProcess_RecordIDsAreDistinctUUIDv4(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		resp, err := h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
		require.NoError(t, err)

		id, err := uuid.Parse(resp.RecordID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), id.Version())
		assert.Equal(t, id.String(), resp.RecordID, "canonical form")
		assert.False(t, seen[resp.RecordID], "duplicate id %s", resp.RecordID)
		seen[resp.RecordID] = true
	}
}

func TestProcess_UnsupportedExtensionFailsBeforeGateways(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})

	_, err := h.orch.Process(context.Background(), validation.Input{Audio: []byte("OggS"), Filename: "clip.ogg"})
	require.Error(t, err)
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
	assert.Equal(t, http.StatusBadRequest, faults.HTTPStatus(faults.KindOf(err)))
	assert.Contains(t, faults.PublicMessage(err), ".ogg")

	assert.Zero(t, h.provider.transcribers.Load(), "transcriber never constructed")
	assert.Zero(t, h.provider.transcribeCalls.Load())
	assert.Zero(t, h.provider.extractors.Load())
	_, statErr := os.Stat(filepath.Join(h.dir, "records.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcess_InputPresenceRules(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	_, errNone := h.orch.Process(ctx, validation.Input{Text: "  "})
	_, errLiteral := h.orch.Process(ctx, validation.Input{Text: "no input"})
	_, errBoth := h.orch.Process(ctx, validation.Input{Audio: []byte("ID3"), Filename: "clip.mp3", Text: "hello"})

	for _, err := range []error{errNone, errLiteral, errBoth} {
		require.Error(t, err)
		assert.Equal(t, faults.KindValidation, faults.KindOf(err))
	}
	assert.Equal(t, validation.MsgNoInput, faults.PublicMessage(errNone))
	assert.Equal(t, validation.MsgNoInput, faults.PublicMessage(errLiteral))
	assert.Equal(t, validation.MsgBothInput, faults.PublicMessage(errBoth))
	assert.NotEqual(t, faults.PublicMessage(errNone), faults.PublicMessage(errBoth))
	assert.Zero(t, h.provider.extractors.Load())
}

func TestProcess_HappyMoodScenario(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	resp, err := h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
	require.NoError(t, err)
	require.NotNil(t, resp.Mood)
	assert.Equal(t, "喜悦", *resp.Mood.Type)
	assert.Empty(t, resp.Inspirations)
	assert.NotNil(t, resp.Inspirations)
	assert.Empty(t, resp.Todos)
	assert.NotNil(t, resp.Todos)

	var records []note.Record
	var moods []note.MoodEntry
	assert.True(t, h.readCollection(t, store.CollectionRecords, &records))
	assert.True(t, h.readCollection(t, store.CollectionMoods, &moods))
	assert.Len(t, records, 1)
	assert.Len(t, moods, 1)
	assert.False(t, h.readCollection(t, store.CollectionInspirations, &[]note.InspirationEntry{}))
	assert.False(t, h.readCollection(t, store.CollectionTodos, &[]note.TodoEntry{}))

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"record_id": "`+resp.RecordID+`",
		"timestamp": "`+fixedTimestamp+`",
		"mood": {"type": "喜悦", "intensity": 8, "keywords": ["开心"]},
		"inspirations": [],
		"todos": []
	}`, string(body))
}

func TestProcess_TranscriptionFaultLeavesRecordsUnchanged(t *testing.T) {
	provider := &fakeProvider{
		transcribeErr: faults.Unavailable(faults.ServiceTranscription, false, errors.New("upstream 502")),
	}
	h := newHarness(t, provider)

	_, err := h.orch.Process(context.Background(), validation.Input{Audio: []byte("ID3"), Filename: "clip.mp3"})
	require.Error(t, err)
	assert.Equal(t, faults.KindTranscription, faults.KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, faults.HTTPStatus(faults.KindOf(err)))
	assert.Equal(t, faults.MsgTranscriptionUnavailable, faults.PublicMessage(err))

	assert.False(t, h.readCollection(t, store.CollectionRecords, &[]note.Record{}))
	assert.Zero(t, provider.extractors.Load())
	assert.Equal(t, int32(1), provider.closed.Load(), "transcriber released")

	h.tel.AssertSpanError(t, "pipeline.transcribe")
	h.tel.AssertSpanAttribute(t, "pipeline.process", "pipeline.failure_kind", "transcription")
	h.logger.AssertField(t, "pipeline state", "to", "failed")
}

func TestProcess_RecordRoundTrip(t *testing.T) {
	parsed := note.ParsedData{
		Mood:         &note.Mood{Type: note.StringPtr("焦虑"), Intensity: note.IntPtr(7), Keywords: []string{"压力"}},
		Inspirations: []note.Inspiration{{CoreIdea: "晚霞可以缓解压力", Tags: []string{"自然"}, Category: note.CategoryLife}},
		Todos:        []note.Todo{{Task: "整理文档", Time: note.StringPtr("明天"), Status: note.StatusPending}},
	}
	h := newHarness(t, &fakeProvider{parsed: parsed})
	ctx := context.Background()

	resp, err := h.orch.Process(ctx, validation.Input{Text: "压力好大"})
	require.NoError(t, err)

	got, err := h.store.Record(ctx, resp.RecordID)
	require.NoError(t, err)
	want := note.Record{
		RecordID:     resp.RecordID,
		Timestamp:    fixedTimestamp,
		InputType:    note.InputText,
		OriginalText: "压力好大",
		ParsedData:   parsed,
	}
	assert.Equal(t, want, *got)

	todos, err := h.store.Todos(ctx, store.Filter{RecordID: resp.RecordID})
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, fixedTimestamp, todos[0].Timestamp)
	assert.Equal(t, "明天", *todos[0].Time)
}

func TestProcess_AudioPath(t *testing.T) {
	provider := &fakeProvider{transcript: "明天要开会", parsed: happyMood()}
	h := newHarness(t, provider)

	resp, err := h.orch.Process(context.Background(), validation.Input{Audio: []byte("ID3"), Filename: "../uploads/clip.MP3"})
	require.NoError(t, err)

	assert.Equal(t, "clip.MP3", provider.gotAudio)
	assert.Equal(t, "明天要开会", provider.gotText)
	assert.Equal(t, int32(2), provider.closed.Load(), "both clients released")

	rec, err := h.store.Record(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, note.InputAudio, rec.InputType)
	assert.Equal(t, "明天要开会", rec.OriginalText)

	for _, name := range []string{"pipeline.process", "pipeline.transcribe", "pipeline.extract", "pipeline.persist"} {
		h.tel.AssertSpanExists(t, name)
	}
	h.tel.AssertSpanAttribute(t, "pipeline.process", "pipeline.input_type", "audio")
}

func TestProcess_EmptyTranscriptStillPersists(t *testing.T) {
	provider := &fakeProvider{transcript: ""}
	h := newHarness(t, provider)

	resp, err := h.orch.Process(context.Background(), validation.Input{Audio: []byte("RIFF"), Filename: "noise.wav"})
	require.NoError(t, err)
	assert.Nil(t, resp.Mood)
	assert.NotNil(t, resp.Inspirations)
	assert.NotNil(t, resp.Todos)

	rec, err := h.store.Record(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "", rec.OriginalText)
}

func TestProcess_ExtractionFault(t *testing.T) {
	provider := &fakeProvider{extractErr: errors.New("plain error from a custom extractor")}
	h := newHarness(t, provider)

	_, err := h.orch.Process(context.Background(), validation.Input{Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, faults.KindSemanticExtraction, faults.KindOf(err), "untagged errors take the stage kind")
	assert.Equal(t, faults.MsgExtractionUnavailable, faults.PublicMessage(err))
	assert.False(t, h.readCollection(t, store.CollectionRecords, &[]note.Record{}))
	h.logger.AssertLogged(t, zapcore.ErrorLevel, "pipeline failed")
	h.tel.AssertSpanError(t, "pipeline.extract")
}

func TestProcess_TranscriberConstructionFault(t *testing.T) {
	provider := &fakeProvider{newErr: faults.Unavailable(faults.ServiceTranscription, false, errors.New("no key"))}
	h := newHarness(t, provider)

	_, err := h.orch.Process(context.Background(), validation.Input{Audio: []byte("ID3"), Filename: "clip.mp3"})
	require.Error(t, err)
	assert.Equal(t, faults.KindTranscription, faults.KindOf(err))
	assert.Zero(t, provider.transcribeCalls.Load())
}

func TestProcess_StorageFaultKeepsSavedRecord(t *testing.T) {
	provider := &fakeProvider{parsed: note.ParsedData{
		Todos: []note.Todo{{Task: "买菜", Status: note.StatusPending}},
	}}
	h := newHarnessWithStore(t, provider, func(s *store.Store) Store { return failingTodos{Store: s} })

	_, err := h.orch.Process(context.Background(), validation.Input{Text: "明天买菜"})
	require.Error(t, err)
	assert.Equal(t, faults.KindStorage, faults.KindOf(err))
	assert.Equal(t, faults.MsgStorageFailed, faults.PublicMessage(err))

	records, err := h.store.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1, "no rollback")
	assert.Empty(t, h.publisher.events, "no event for a failed request")
	h.tel.AssertSpanError(t, "pipeline.persist")
}

func TestProcess_CorrelationToken(t *testing.T) {
	h := newHarness(t, &fakeProvider{transcript: "今天很开心", parsed: happyMood()})
	ctx := logging.WithRequestID(context.Background(), "req-123")

	_, err := h.orch.Process(ctx, validation.Input{Audio: []byte("ID3"), Filename: "clip.mp3"})
	require.NoError(t, err)
	h.logger.AssertAllCarry(t, "request.id", "req-123")
	h.logger.AssertNoText(t, "今天很开心")

	h.logger.Reset()
	_, err = h.orch.Process(ctx, validation.Input{Filename: "clip.ogg", Audio: []byte("x")})
	require.Error(t, err)
	h.logger.AssertAllCarry(t, "request.id", "req-123")
	assert.Empty(t, logging.RecordIDFromContext(ctx), "caller context is not modified")
}

func TestProcess_MintsCorrelationToken(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})

	_, err := h.orch.Process(context.Background(), validation.Input{Text: "hi"})
	require.NoError(t, err)

	entries := h.logger.FilterMessage("note processed").All()
	require.Len(t, entries, 1)
	id, _ := entries[0].ContextMap()["request.id"].(string)
	assert.True(t, logging.ValidRequestID(id))
	assert.NotEmpty(t, entries[0].ContextMap()["record.id"])
}

func TestProcess_PublishesEvent(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})

	resp, err := h.orch.Process(context.Background(), validation.Input{Text: "今天很开心"})
	require.NoError(t, err)
	require.Len(t, h.publisher.events, 1)
	ev := h.publisher.events[0]
	assert.Equal(t, resp.RecordID, ev.RecordID)
	assert.Equal(t, fixedTimestamp, ev.Timestamp)
	assert.Equal(t, "喜悦", *ev.MoodType)
}

func TestProcess_PublishFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	h.publisher.err = errors.New("nats: connection closed")

	resp, err := h.orch.Process(context.Background(), validation.Input{Text: "今天很开心"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RecordID)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "record event publish failed")
	h.logger.AssertField(t, "pipeline state", "to", "responded")
}

func TestProcess_Metrics(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	success := RequestsTotal.WithLabelValues("text", "success")
	rejected := RequestsTotal.WithLabelValues("unknown", "validation")
	beforeOK, beforeRejected := testutil.ToFloat64(success), testutil.ToFloat64(rejected)

	_, err := h.orch.Process(ctx, validation.Input{Text: "hi"})
	require.NoError(t, err)
	_, err = h.orch.Process(ctx, validation.Input{})
	require.Error(t, err)

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(success))
	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(rejected))
}

func TestProcess_ConcurrentSubmissions(t *testing.T) {
	h := newHarness(t, &fakeProvider{parsed: happyMood()})
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Process(ctx, validation.Input{Text: "今天很开心"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var records []note.Record
	var moods []note.MoodEntry
	require.True(t, h.readCollection(t, store.CollectionRecords, &records))
	require.True(t, h.readCollection(t, store.CollectionMoods, &moods))
	assert.Len(t, records, n)
	assert.Len(t, moods, n)
}

func TestNew_RequiresDependencies(t *testing.T) {
	v := validation.New(config.AudioConfig{MaxSize: 10})
	_, err := New(Options{Gateways: &fakeProvider{}, Store: failingTodos{}})
	assert.Error(t, err)
	_, err = New(Options{Validator: v, Store: failingTodos{}})
	assert.Error(t, err)
	_, err = New(Options{Validator: v, Gateways: &fakeProvider{}})
	assert.Error(t, err)
}
