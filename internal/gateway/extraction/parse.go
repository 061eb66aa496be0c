package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/voicenote/internal/note"
)

// ErrMalformed indicates model output that is not a JSON object.
var ErrMalformed = errors.New("malformed extraction payload")

// Dropped counts items discarded for violating field constraints.
type Dropped struct {
	Mood         bool
	Inspirations int
	Todos        int
}

// Parse decodes chat model output into ParsedData. Items that violate a
// field constraint are dropped individually; only output that is not a
// JSON object fails.
func Parse(content string) (note.ParsedData, Dropped, error) {
	var dropped Dropped

	fields, err := decodeObject(content)
	if err != nil {
		return note.ParsedData{}, dropped, err
	}

	var out note.ParsedData
	out.Mood, dropped.Mood = parseMood(fields["mood"])

	for _, raw := range rawList(fields["inspirations"]) {
		if in, ok := parseInspiration(raw); ok {
			out.Inspirations = append(out.Inspirations, in)
		} else {
			dropped.Inspirations++
		}
	}
	for _, raw := range rawList(fields["todos"]) {
		if td, ok := parseTodo(raw); ok {
			out.Todos = append(out.Todos, td)
		} else {
			dropped.Todos++
		}
	}

	out.Normalize()
	return out, dropped, nil
}

// decodeObject strips markdown fences and decodes a top-level object,
// falling back to the outermost {...} span.
func decodeObject(content string) (map[string]json.RawMessage, error) {
	body := stripFences(content)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err == nil && fields != nil {
		return fields, nil
	}

	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(body[start:end+1]), &fields); err == nil && fields != nil {
			return fields, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON object in %d bytes of output", ErrMalformed, len(content))
}

func stripFences(content string) string {
	for _, fence := range []string{"```json", "```"} {
		i := strings.Index(content, fence)
		if i < 0 {
			continue
		}
		rest := content[i+len(fence):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(content)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// rawList returns the elements of a JSON array, or nil for anything else.
func rawList(raw json.RawMessage) []json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// optString decodes a string or null. ok is false for any other type.
func optString(raw json.RawMessage) (s *string, ok bool) {
	if isNull(raw) {
		return nil, true
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// stringList decodes an array of strings. Missing or null is an empty list.
func stringList(raw json.RawMessage) ([]string, bool) {
	if isNull(raw) {
		return []string{}, true
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if v == nil {
		v = []string{}
	}
	return v, true
}

// intensity accepts an integral number or a numeric string.
func intensity(raw json.RawMessage) (*int, bool) {
	if isNull(raw) {
		return nil, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return nil, false
		}
	}
	if f != math.Trunc(f) {
		return nil, false
	}
	n := int(f)
	return &n, true
}

// parseMood returns nil for a missing, empty or invalid mood. dropped
// reports an invalid mood.
func parseMood(raw json.RawMessage) (mood *note.Mood, dropped bool) {
	if isNull(raw) {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, true
	}
	if len(fields) == 0 {
		return nil, false
	}

	typ, ok := optString(fields["type"])
	if !ok {
		return nil, true
	}
	level, ok := intensity(fields["intensity"])
	if !ok {
		return nil, true
	}
	keywords, ok := stringList(fields["keywords"])
	if !ok {
		return nil, true
	}

	m := &note.Mood{Type: typ, Intensity: level, Keywords: keywords}
	if !m.Valid() {
		return nil, true
	}
	return m, false
}

func parseInspiration(raw json.RawMessage) (note.Inspiration, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return note.Inspiration{}, false
	}

	idea, ok := optString(fields["core_idea"])
	if !ok || idea == nil {
		return note.Inspiration{}, false
	}
	tags, ok := stringList(fields["tags"])
	if !ok {
		return note.Inspiration{}, false
	}

	category := note.CategoryLife
	label, ok := optString(fields["category"])
	if !ok {
		return note.Inspiration{}, false
	}
	if label != nil {
		if category, ok = note.ParseCategory(*label); !ok {
			return note.Inspiration{}, false
		}
	}

	in := note.Inspiration{CoreIdea: *idea, Tags: tags, Category: category}
	return in, in.Valid()
}

func parseTodo(raw json.RawMessage) (note.Todo, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return note.Todo{}, false
	}

	task, ok := optString(fields["task"])
	if !ok || task == nil {
		return note.Todo{}, false
	}
	when, ok := optString(fields["time"])
	if !ok {
		return note.Todo{}, false
	}
	where, ok := optString(fields["location"])
	if !ok {
		return note.Todo{}, false
	}

	status := note.StatusPending
	s, ok := optString(fields["status"])
	if !ok {
		return note.Todo{}, false
	}
	if s != nil {
		if v := note.TodoStatus(strings.ToLower(strings.TrimSpace(*s))); v.Valid() {
			status = v
		}
	}

	td := note.Todo{Task: strings.TrimSpace(*task), Time: when, Location: where, Status: status}
	return td, td.Valid()
}
