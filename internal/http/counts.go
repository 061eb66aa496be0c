package http

import (
	"context"

	"github.com/fyrsmithlabs/voicenote/internal/store"
)

// CountEntries totals each collection for the service info endpoint.
//
// A collection that cannot be read counts as -1 so a corrupt file shows up
// without failing the request. Moods are counted after merging with the
// moods embedded in records, matching GET /api/moods.
func CountEntries(ctx context.Context, r Reader) Counts {
	counts := Counts{Records: -1, Moods: -1, Inspirations: -1, Todos: -1}
	if r == nil {
		return counts
	}

	if records, err := r.Records(ctx); err == nil {
		counts.Records = len(records)
	}
	if moods, err := r.Moods(ctx); err == nil {
		counts.Moods = len(moods)
	}
	if items, err := r.Inspirations(ctx, store.Filter{}); err == nil {
		counts.Inspirations = len(items)
	}
	if todos, err := r.Todos(ctx, store.Filter{}); err == nil {
		counts.Todos = len(todos)
	}
	return counts
}
