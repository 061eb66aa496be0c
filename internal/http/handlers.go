package http

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/fyrsmithlabs/voicenote/internal/store"
	"github.com/fyrsmithlabs/voicenote/internal/validation"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Form and JSON field names for POST /api/process.
const (
	fieldAudio = "audio"
	fieldText  = "text"
)

// handleInfo returns service info and entry counts.
func (a *API) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, InfoResponse{
		Service:   a.config.Service,
		Status:    "running",
		Version:   a.config.Version,
		Endpoints: endpoints,
		Counts:    CountEntries(c.Request().Context(), a.reader),
	})
}

// handleProcess accepts multipart/form-data (audio and/or text) or a JSON
// body {"text": "..."} and runs it through the pipeline.
func (a *API) handleProcess(c echo.Context) error {
	in, err := a.readInput(c)
	if err != nil {
		return err
	}

	resp, err := a.processor.Process(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) readInput(c echo.Context) (validation.Input, error) {
	ctype := c.Request().Header.Get(echo.HeaderContentType)

	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		var req ProcessRequest
		if err := c.Bind(&req); err != nil {
			a.logger.Warn(c.Request().Context(), "invalid process request", zap.Error(err))
			return validation.Input{}, faults.Validation("invalid request body")
		}
		return validation.Input{Text: req.Text}, nil

	case strings.HasPrefix(ctype, echo.MIMEApplicationForm):
		// urlencoded bodies cannot carry a file
		return validation.Input{Text: c.FormValue(fieldText)}, nil

	case strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		in := validation.Input{Text: c.FormValue(fieldText)}
		fh, err := c.FormFile(fieldAudio)
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return in, nil
		case err != nil:
			return validation.Input{}, formError(err)
		}
		audio, err := a.readUpload(fh)
		if err != nil {
			return validation.Input{}, formError(err)
		}
		in.Audio = audio
		in.Filename = fh.Filename
		in.Size = fh.Size
		return in, nil

	case ctype == "":
		return validation.Input{}, faults.Validation(validation.MsgNoInput)

	default:
		return validation.Input{}, faults.Validationf("unsupported content type: %s", ctype)
	}
}

// readUpload reads at most one byte past the audio ceiling, which is enough
// for the validator to reject an oversize file.
func (a *API) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, a.config.MaxAudioSize+1))
}

// formError keeps body-limit errors and reports anything else as a bad form.
func formError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return faults.Validation("invalid multipart form")
}

func (a *API) handleRecords(c echo.Context) error {
	records, err := a.reader.Records(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

func (a *API) handleRecord(c echo.Context) error {
	rec, err := a.reader.Record(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (a *API) handleMoods(c echo.Context) error {
	moods, err := a.reader.Moods(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MoodsResponse{Moods: moods, Count: len(moods)})
}

func (a *API) handleInspirations(c echo.Context) error {
	f := store.Filter{RecordID: c.QueryParam("record_id")}
	if label := c.QueryParam("category"); label != "" {
		cat, ok := note.ParseCategory(label)
		if !ok {
			return faults.Validationf("invalid category: %q (allowed: Work, Life, Study, Creative)", label)
		}
		f.Category = cat
	}

	items, err := a.reader.Inspirations(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, InspirationsResponse{Inspirations: items, Count: len(items)})
}

func (a *API) handleTodos(c echo.Context) error {
	f := store.Filter{RecordID: c.QueryParam("record_id")}
	if s := c.QueryParam("status"); s != "" {
		status := note.TodoStatus(strings.ToLower(s))
		if !status.Valid() {
			return faults.Validationf("invalid status: %q (allowed: pending, in_progress, completed, cancelled)", s)
		}
		f.Status = status
	}

	items, err := a.reader.Todos(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TodosResponse{Todos: items, Count: len(items)})
}

func (a *API) handleUpdateTodo(c echo.Context) error {
	var req UpdateTodoRequest
	if err := c.Bind(&req); err != nil {
		return faults.Validation("invalid request body")
	}
	if strings.TrimSpace(req.Status) == "" {
		return faults.Validation("status field is required")
	}

	todo, err := a.reader.UpdateTodoStatus(c.Request().Context(), c.Param("id"), note.TodoStatus(strings.ToLower(req.Status)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, todo)
}
