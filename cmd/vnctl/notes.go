package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check voicenote server health",
		Long: `Check the health status of the voicenote server.

Examples:
  vnctl health
  vnctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := c.get("/health", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			fmt.Fprintf(out, "Server URL: %s\n", c.serverURL)
			for name, state := range resp.Checks {
				fmt.Fprintf(out, "  %s: %s\n", name, state)
			}
			return nil
		},
	}
}

func newProcessCmd(c *client) *cobra.Command {
	var text, audio string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Submit a note as text or an audio file",
		Long: `Submit a note for transcription and extraction. Exactly one of --text
or --audio is required.

Examples:
  vnctl process --text "明天下午三点开会"
  vnctl process --audio memo.m4a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case text == "" && audio == "":
				return errors.New("one of --text or --audio is required")
			case text != "" && audio != "":
				return errors.New("--text and --audio are mutually exclusive")
			}

			var result map[string]any
			if text != "" {
				if err := c.sendJSON(http.MethodPost, "/api/process", map[string]string{"text": text}, &result); err != nil {
					return err
				}
			} else {
				req, err := c.uploadRequest(audio)
				if err != nil {
					return err
				}
				if err := c.do(req, &result); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	cmd.Flags().StringVar(&audio, "audio", "", "path to an audio file")
	return cmd
}

// uploadRequest builds the multipart body for an audio submission.
func (c *client) uploadRequest(path string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.serverURL+"/api/process", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func newRecordsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "records [id]",
		Short: "List records, or show one record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/records"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			return c.show(cmd, path)
		},
	}
}

func newMoodsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "moods",
		Short: "List moods, one per record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.show(cmd, "/api/moods")
		},
	}
}

func newInspirationsCmd(c *client) *cobra.Command {
	var category, recordID string

	cmd := &cobra.Command{
		Use:   "inspirations",
		Short: "List inspirations",
		Long: `List inspirations, optionally filtered.

Examples:
  vnctl inspirations
  vnctl inspirations --category Work
  vnctl inspirations --category 创意`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if category != "" {
				q.Set("category", category)
			}
			if recordID != "" {
				q.Set("record_id", recordID)
			}
			return c.show(cmd, withQuery("/api/inspirations", q))
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Work, Life, Study or Creative (English or Chinese)")
	cmd.Flags().StringVar(&recordID, "record", "", "only entries from this record")
	return cmd
}

func newTodosCmd(c *client) *cobra.Command {
	var status, recordID string

	cmd := &cobra.Command{
		Use:   "todos",
		Short: "List todos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if recordID != "" {
				q.Set("record_id", recordID)
			}
			return c.show(cmd, withQuery("/api/todos", q))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, completed or cancelled")
	cmd.Flags().StringVar(&recordID, "record", "", "only entries from this record")
	return cmd
}

func newTodoStatusCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "todo-status <id> <status>",
		Short: "Set the status of a todo",
		Long: `Set the status of a todo.

Examples:
  vnctl todo-status 3f0c... completed`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var todo map[string]any
			body := map[string]string{"status": args[1]}
			if err := c.sendJSON(http.MethodPatch, "/api/todos/"+url.PathEscape(args[0]), body, &todo); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), todo)
		},
	}
}

// show GETs path and prints the body as JSON.
func (c *client) show(cmd *cobra.Command, path string) error {
	var v any
	if err := c.get(path, &v); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), v)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
