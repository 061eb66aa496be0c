// Package note defines the voicenote data model: the persisted Record, the
// ParsedData extracted from a note, and the derived mood, inspiration and
// todo entries that reference a record by id.
package note

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the fixed-precision UTC layout used for every
// persisted timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t in UTC with microsecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value written by Timestamp. RFC 3339 is accepted
// as a fallback so hand-edited files stay readable.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// InputType is the kind of note the caller submitted.
type InputType string

const (
	InputAudio InputType = "audio"
	InputText  InputType = "text"
)

// Field limits enforced on extracted entries.
const (
	MinIntensity   = 1
	MaxIntensity   = 10
	MaxCoreIdeaLen = 20 // code points
	MaxTags        = 5
)

// Category classifies an inspiration.
type Category string

const (
	CategoryWork     Category = "Work"
	CategoryLife     Category = "Life"
	CategoryStudy    Category = "Study"
	CategoryCreative Category = "Creative"
)

var categoryAliases = map[string]Category{
	"work":     CategoryWork,
	"life":     CategoryLife,
	"study":    CategoryStudy,
	"creative": CategoryCreative,
	"工作":       CategoryWork,
	"生活":       CategoryLife,
	"学习":       CategoryStudy,
	"创意":       CategoryCreative,
}

// ParseCategory maps an English (any case) or Chinese label onto a Category.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Valid reports whether c is one of the four categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryWork, CategoryLife, CategoryStudy, CategoryCreative:
		return true
	}
	return false
}

// TodoStatus is the lifecycle state of a todo.
type TodoStatus string

const (
	StatusPending    TodoStatus = "pending"
	StatusInProgress TodoStatus = "in_progress"
	StatusCompleted  TodoStatus = "completed"
	StatusCancelled  TodoStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TodoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Mood is the emotional state extracted from a note. Type and Intensity
// are independently optional.
type Mood struct {
	Type      *string  `json:"type"`
	Intensity *int     `json:"intensity"`
	Keywords  []string `json:"keywords"`
}

// Valid reports whether the intensity, when present, is within 1..10.
func (m Mood) Valid() bool {
	return m.Intensity == nil || (*m.Intensity >= MinIntensity && *m.Intensity <= MaxIntensity)
}

// Inspiration is an idea extracted from a note.
type Inspiration struct {
	CoreIdea string   `json:"core_idea"`
	Tags     []string `json:"tags"`
	Category Category `json:"category"`
}

// Valid checks the core idea length, tag count and category. An empty
// core idea is allowed.
func (i Inspiration) Valid() bool {
	return utf8.RuneCountInString(i.CoreIdea) <= MaxCoreIdeaLen &&
		len(i.Tags) <= MaxTags &&
		i.Category.Valid()
}

// Todo is a task extracted from a note. Time is kept verbatim
// ("明天下午", "next Friday").
type Todo struct {
	Task     string     `json:"task"`
	Time     *string    `json:"time"`
	Location *string    `json:"location"`
	Status   TodoStatus `json:"status"`
}

// Valid requires a non-blank task. Status is not checked here; the
// extractor maps unknown values to pending.
func (t Todo) Valid() bool {
	return strings.TrimSpace(t.Task) != ""
}

// ParsedData is the structured result of semantic extraction. It is always
// complete: a missing mood encodes as null, missing lists as [].
type ParsedData struct {
	Mood         *Mood         `json:"mood"`
	Inspirations []Inspiration `json:"inspirations"`
	Todos        []Todo        `json:"todos"`
}

// Normalize replaces nil slices with empty ones.
func (p *ParsedData) Normalize() {
	if p.Inspirations == nil {
		p.Inspirations = []Inspiration{}
	}
	if p.Todos == nil {
		p.Todos = []Todo{}
	}
	if p.Mood != nil && p.Mood.Keywords == nil {
		p.Mood.Keywords = []string{}
	}
	for i := range p.Inspirations {
		if p.Inspirations[i].Tags == nil {
			p.Inspirations[i].Tags = []string{}
		}
	}
}

// MarshalJSON keeps the shape complete even for a zero value.
func (p ParsedData) MarshalJSON() ([]byte, error) {
	// Normalize a copy; the receiver's slices and mood are shared.
	if p.Mood != nil {
		m := *p.Mood
		p.Mood = &m
	}
	p.Inspirations = append([]Inspiration(nil), p.Inspirations...)
	p.Normalize()
	type plain ParsedData
	return json.Marshal(plain(p))
}

// Record is one processed note. Immutable once persisted.
type Record struct {
	RecordID     string     `json:"record_id"`
	Timestamp    string     `json:"timestamp"`
	InputType    InputType  `json:"input_type"`
	OriginalText string     `json:"original_text"`
	ParsedData   ParsedData `json:"parsed_data"`
}

// MoodEntry is a row in the moods collection.
type MoodEntry struct {
	RecordID  string   `json:"record_id"`
	Timestamp string   `json:"timestamp"`
	Type      *string  `json:"type"`
	Intensity *int     `json:"intensity"`
	Keywords  []string `json:"keywords"`
}

// NewMoodEntry stamps m with the owning record's id and timestamp.
func NewMoodEntry(m Mood, recordID, timestamp string) MoodEntry {
	kw := m.Keywords
	if kw == nil {
		kw = []string{}
	}
	return MoodEntry{RecordID: recordID, Timestamp: timestamp, Type: m.Type, Intensity: m.Intensity, Keywords: kw}
}

// InspirationEntry is a row in the inspirations collection.
type InspirationEntry struct {
	RecordID  string   `json:"record_id"`
	Timestamp string   `json:"timestamp"`
	CoreIdea  string   `json:"core_idea"`
	Tags      []string `json:"tags"`
	Category  Category `json:"category"`
}

// TodoEntry is a row in the todos collection. ID identifies the entry for
// status updates.
type TodoEntry struct {
	ID        string     `json:"id"`
	RecordID  string     `json:"record_id"`
	Timestamp string     `json:"timestamp"`
	Task      string     `json:"task"`
	Time      *string    `json:"time"`
	Location  *string    `json:"location"`
	Status    TodoStatus `json:"status"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }
