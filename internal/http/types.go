package http

import "github.com/fyrsmithlabs/voicenote/internal/note"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// InfoResponse is the response body for GET /.
type InfoResponse struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Endpoints []string `json:"endpoints"`
	Counts    Counts   `json:"counts"`
}

// Counts holds entry totals per collection. -1 means the collection could
// not be read.
type Counts struct {
	Records      int `json:"records"`
	Moods        int `json:"moods"`
	Inspirations int `json:"inspirations"`
	Todos        int `json:"todos"`
}

// ProcessRequest is the JSON body for POST /api/process.
type ProcessRequest struct {
	Text string `json:"text"`
}

// UpdateTodoRequest is the body for PATCH /api/todos/:id.
type UpdateTodoRequest struct {
	Status string `json:"status"`
}

// RecordsResponse is the response body for GET /api/records.
type RecordsResponse struct {
	Records []note.Record `json:"records"`
	Count   int           `json:"count"`
}

// MoodsResponse is the response body for GET /api/moods.
type MoodsResponse struct {
	Moods []note.MoodEntry `json:"moods"`
	Count int              `json:"count"`
}

// InspirationsResponse is the response body for GET /api/inspirations.
type InspirationsResponse struct {
	Inspirations []note.InspirationEntry `json:"inspirations"`
	Count        int                     `json:"count"`
}

// TodosResponse is the response body for GET /api/todos.
type TodosResponse struct {
	Todos []note.TodoEntry `json:"todos"`
	Count int              `json:"count"`
}
