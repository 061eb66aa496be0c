// Package main implements vnctl, a CLI for the voicenote HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// version information (set via ldflags during build)
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to one voicenote server.
type client struct {
	serverURL string
	http      *http.Client
}

func newRootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:   "vnctl",
		Short: "CLI for the voicenote service",
		Long: `vnctl submits notes to a voicenote server and reads back what it stored:
records, moods, inspirations and todos.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.serverURL = strings.TrimRight(c.serverURL, "/")
		},
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8000", "voicenote server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")

	root.AddCommand(
		newHealthCmd(c),
		newProcessCmd(c),
		newRecordsCmd(c),
		newMoodsCmd(c),
		newInspirationsCmd(c),
		newTodosCmd(c),
		newTodoStatusCmd(c),
	)
	return root
}

// timeout bounds every request. Processing waits on two model calls, so
// the default is generous.
var timeout time.Duration

func (c *client) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return &http.Client{Timeout: timeout}
}

// do sends req and decodes a 2xx JSON body into out. Error bodies are
// reported using the server's {"error": ...} message when present.
func (c *client) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) sendJSON(method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequest(method, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// printJSON writes v as indented JSON without escaping non-ASCII text.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
