package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const testKey = "test-key-123456"

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatResponse(t *testing.T, content string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "glm-4-flash",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
	})
	require.NoError(t, err)
	return string(data)
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration, retries int) (*Client, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	c, err := New(Options{
		BaseURL:     baseURL,
		Model:       "glm-4-flash",
		APIKey:      testKey,
		Timeout:     timeout,
		MaxRetries:  retries,
		Temperature: 0.7,
		TopP:        0.9,
		Backoff:     time.Millisecond,
		Limiter:     rate.NewLimiter(rate.Inf, 1),
		Logger:      logger.Logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, logger
}

func TestExtract_Success(t *testing.T) {
	var (
		path string
		auth string
		req  chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatResponse(t, "```json\n"+fullPayload+"\n```"))
	}))
	defer srv.Close()

	c, logger := newTestClient(t, srv.URL, 5*time.Second, 0)
	got, err := c.Extract(context.Background(), "压力好大，明天要整理文档")
	require.NoError(t, err)

	require.NotNil(t, got.Mood)
	assert.Equal(t, "焦虑", *got.Mood.Type)
	assert.Len(t, got.Inspirations, 1)
	assert.Len(t, got.Todos, 1)

	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "Bearer "+testKey, auth)
	assert.Equal(t, "glm-4-flash", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
	assert.InDelta(t, 0.9, req.TopP, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, systemPrompt, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "压力好大，明天要整理文档", req.Messages[1].Content)

	logger.AssertLogged(t, zapcore.InfoLevel, "extraction completed")
	logger.AssertNoText(t, "压力好大")
}

func TestExtract_BlankTextSkipsUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second, 0)
	got, err := c.Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, got.Mood)
	assert.NotNil(t, got.Inspirations)
	assert.NotNil(t, got.Todos)
	assert.Zero(t, calls.Load())
}

func TestExtract_DroppedItemsAreLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatResponse(t, `{"mood": {"type": "喜悦", "intensity": 42}, "inspirations": [], "todos": [{"task": ""}]}`))
	}))
	defer srv.Close()

	c, logger := newTestClient(t, srv.URL, time.Second, 0)
	got, err := c.Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Nil(t, got.Mood)
	assert.Empty(t, got.Todos)
	logger.AssertField(t, "extraction items dropped", "todos", int64(1))
}

func TestExtract_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatResponse(t, "我不确定"))
	}))
	defer srv.Close()

	c, logger := newTestClient(t, srv.URL, time.Second, 2)
	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, faults.KindSemanticExtraction, faults.KindOf(err))
	assert.Equal(t, faults.MsgExtractionUnavailable, faults.PublicMessage(err))
	assert.ErrorIs(t, err, ErrMalformed)
	logger.AssertLogged(t, zapcore.ErrorLevel, "extraction payload rejected")
}

func TestExtract_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		_, _ = io.WriteString(w, chatResponse(t, `{"mood": null, "inspirations": [], "todos": []}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second, 2)
	_, err := c.Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtract_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second, 1)
	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, faults.KindSemanticExtraction, faults.KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExtract_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request"}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second, 3)
	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtract_TimeoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, 50*time.Millisecond, 3)
	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, faults.KindSemanticExtraction, faults.KindOf(err))
	assert.True(t, faults.IsTimeout(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{BaseURL: "http://localhost"})
	assert.Error(t, err)
	_, err = New(Options{APIKey: testKey})
	assert.Error(t, err)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 503, statusCode(errString("API returned unexpected status code: 503: overloaded")))
	assert.Equal(t, 0, statusCode(errString("connection reset")))
}

type errString string

func (e errString) Error() string { return string(e) }
