// Package store persists processed notes as four append-only JSON
// collections under one data directory:
//
//	{data_dir}/
//	├── records.json        full Record per note
//	├── moods.json          one MoodEntry per record with a mood
//	├── inspirations.json   InspirationEntry rows
//	└── todos.json          TodoEntry rows
//
// Derived entries carry the record_id and timestamp of their Record. Each
// file is created on its first write and rewritten whole on every append.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collection names, also the file stems.
const (
	CollectionRecords      = "records"
	CollectionMoods        = "moods"
	CollectionInspirations = "inspirations"
	CollectionTodos        = "todos"
)

const dirPerm = 0o755

// Filter narrows list reads. Empty fields match everything.
type Filter struct {
	RecordID string
	Category note.Category
	Status   note.TodoStatus
}

// Store is the RecordStore. Safe for concurrent use.
type Store struct {
	dir    string
	logger *logging.Logger
	newID  func() string

	records      *collection[note.Record]
	moods        *collection[note.MoodEntry]
	inspirations *collection[note.InspirationEntry]
	todos        *collection[note.TodoEntry]
}

// New opens a store rooted at dir, creating the directory if needed.
// Collection files are not created until written.
func New(dir string, logger *logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Store{
		dir:          dir,
		logger:       logger.Named("store"),
		newID:        uuid.NewString,
		records:      newCollection[note.Record](dir, CollectionRecords),
		moods:        newCollection[note.MoodEntry](dir, CollectionMoods),
		inspirations: newCollection[note.InspirationEntry](dir, CollectionInspirations),
		todos:        newCollection[note.TodoEntry](dir, CollectionTodos),
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveRecord appends rec to the records collection and returns its id,
// minting a UUIDv4 when rec.RecordID is empty.
func (s *Store) SaveRecord(ctx context.Context, rec note.Record) (string, error) {
	if rec.RecordID == "" {
		rec.RecordID = s.newID()
	}
	rec.ParsedData.Normalize()

	if err := s.records.add(rec); err != nil {
		return "", s.writeFailed(ctx, CollectionRecords, err)
	}
	s.written(ctx, CollectionRecords, 1)
	return rec.RecordID, nil
}

// AppendMood appends one mood entry. A nil mood writes nothing.
func (s *Store) AppendMood(ctx context.Context, mood *note.Mood, recordID, timestamp string) error {
	if mood == nil {
		return nil
	}
	if err := s.moods.add(note.NewMoodEntry(*mood, recordID, timestamp)); err != nil {
		return s.writeFailed(ctx, CollectionMoods, err)
	}
	s.written(ctx, CollectionMoods, 1)
	return nil
}

// AppendInspirations appends one entry per inspiration. An empty list
// writes nothing.
func (s *Store) AppendInspirations(ctx context.Context, items []note.Inspiration, recordID, timestamp string) error {
	if len(items) == 0 {
		return nil
	}
	entries := make([]note.InspirationEntry, len(items))
	for i, in := range items {
		tags := in.Tags
		if tags == nil {
			tags = []string{}
		}
		entries[i] = note.InspirationEntry{
			RecordID:  recordID,
			Timestamp: timestamp,
			CoreIdea:  in.CoreIdea,
			Tags:      tags,
			Category:  in.Category,
		}
	}
	if err := s.inspirations.add(entries...); err != nil {
		return s.writeFailed(ctx, CollectionInspirations, err)
	}
	s.written(ctx, CollectionInspirations, len(entries))
	return nil
}

// AppendTodos appends one entry per todo, each with a fresh id. An empty
// list writes nothing.
func (s *Store) AppendTodos(ctx context.Context, items []note.Todo, recordID, timestamp string) error {
	if len(items) == 0 {
		return nil
	}
	entries := make([]note.TodoEntry, len(items))
	for i, td := range items {
		status := td.Status
		if status == "" {
			status = note.StatusPending
		}
		entries[i] = note.TodoEntry{
			ID:        s.newID(),
			RecordID:  recordID,
			Timestamp: timestamp,
			Task:      td.Task,
			Time:      td.Time,
			Location:  td.Location,
			Status:    status,
		}
	}
	if err := s.todos.add(entries...); err != nil {
		return s.writeFailed(ctx, CollectionTodos, err)
	}
	s.written(ctx, CollectionTodos, len(entries))
	return nil
}

// Records returns every record in insertion order.
func (s *Store) Records(ctx context.Context) ([]note.Record, error) {
	recs, err := s.records.all()
	if err != nil {
		return nil, s.readFailed(ctx, CollectionRecords, err)
	}
	return recs, nil
}

// Record returns the record with the given id.
func (s *Store) Record(ctx context.Context, id string) (*note.Record, error) {
	recs, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].RecordID == id {
			return &recs[i], nil
		}
	}
	return nil, faults.NotFound("record not found")
}

// Moods merges the moods collection with moods embedded in records. For
// each record_id the latest timestamp wins, the dedicated entry on a tie.
// The result is sorted by timestamp ascending.
func (s *Store) Moods(ctx context.Context) ([]note.MoodEntry, error) {
	dedicated, err := s.moods.all()
	if err != nil {
		return nil, s.readFailed(ctx, CollectionMoods, err)
	}
	recs, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]note.MoodEntry, len(dedicated)+len(recs))
	consider := func(e note.MoodEntry, dedicatedEntry bool) {
		cur, ok := latest[e.RecordID]
		switch {
		case !ok, e.Timestamp > cur.Timestamp:
			latest[e.RecordID] = e
		case e.Timestamp == cur.Timestamp && dedicatedEntry:
			latest[e.RecordID] = e
		}
	}
	for _, e := range dedicated {
		consider(e, true)
	}
	for _, r := range recs {
		if r.ParsedData.Mood != nil {
			consider(note.NewMoodEntry(*r.ParsedData.Mood, r.RecordID, r.Timestamp), false)
		}
	}

	out := make([]note.MoodEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}

// Inspirations returns entries matching f.RecordID and f.Category.
func (s *Store) Inspirations(ctx context.Context, f Filter) ([]note.InspirationEntry, error) {
	all, err := s.inspirations.all()
	if err != nil {
		return nil, s.readFailed(ctx, CollectionInspirations, err)
	}
	out := make([]note.InspirationEntry, 0, len(all))
	for _, e := range all {
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Todos returns entries matching f.RecordID and f.Status.
func (s *Store) Todos(ctx context.Context, f Filter) ([]note.TodoEntry, error) {
	all, err := s.todos.all()
	if err != nil {
		return nil, s.readFailed(ctx, CollectionTodos, err)
	}
	out := make([]note.TodoEntry, 0, len(all))
	for _, e := range all {
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateTodoStatus sets the status of the todo with the given id and
// returns the updated entry.
func (s *Store) UpdateTodoStatus(ctx context.Context, id string, status note.TodoStatus) (*note.TodoEntry, error) {
	if !status.Valid() {
		return nil, faults.Validationf("invalid status: %q (allowed: %s)", status, allowedStatuses)
	}

	var updated *note.TodoEntry
	err := s.todos.update(func(entries []note.TodoEntry) ([]note.TodoEntry, error) {
		for i := range entries {
			if entries[i].ID == id {
				entries[i].Status = status
				e := entries[i]
				updated = &e
				return entries, nil
			}
		}
		return nil, faults.NotFound("todo not found")
	})
	if err != nil {
		if faults.KindOf(err) == faults.KindNotFound {
			return nil, err
		}
		return nil, s.writeFailed(ctx, CollectionTodos, err)
	}

	s.logger.Info(ctx, "todo status updated",
		zap.String("todo.id", id),
		zap.String("status", string(status)),
	)
	return updated, nil
}

// Writable checks that a file can be created in the data directory.
func (s *Store) Writable() error {
	f, err := os.CreateTemp(s.dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

var allowedStatuses = strings.Join([]string{
	string(note.StatusPending),
	string(note.StatusInProgress),
	string(note.StatusCompleted),
	string(note.StatusCancelled),
}, ", ")

func (s *Store) written(ctx context.Context, coll string, n int) {
	EntriesWritten.WithLabelValues(coll).Add(float64(n))
	s.logger.Debug(ctx, "collection appended",
		zap.String("collection", coll),
		zap.Int("entries", n),
	)
}

func (s *Store) writeFailed(ctx context.Context, coll string, err error) error {
	WriteErrors.WithLabelValues(coll).Inc()
	s.logger.Error(ctx, "collection write failed",
		zap.String("collection", coll),
		zap.Error(err),
	)
	return faults.Storage(err)
}

func (s *Store) readFailed(ctx context.Context, coll string, err error) error {
	s.logger.Error(ctx, "collection read failed",
		zap.String("collection", coll),
		zap.Error(err),
	)
	return faults.Storage(err)
}
