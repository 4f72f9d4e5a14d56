package assist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbyniko/research-platform-sub006/internal/credits"
)

func completionServer(t *testing.T, status int, content string) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	requests := &[]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(raw, &req)
		*requests = append(*requests, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1770000000,
			"model":   "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func testClient(srv *httptest.Server) *Client {
	return newClient("test-model",
		option.WithAPIKey("sk-test"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
}

func TestSummarize(t *testing.T) {
	srv, requests := completionServer(t, http.StatusOK, "Two sources confirm the crossing.")
	c := testClient(srv)

	res, err := c.Run(context.Background(), credits.OpSummarize, map[string]any{"title": "River crossing"})
	require.NoError(t, err)
	assert.Equal(t, credits.OpSummarize, res.Operation)
	assert.Equal(t, "Two sources confirm the crossing.", res.Text)

	require.Len(t, *requests, 1)
	assert.Equal(t, "test-model", (*requests)[0]["model"])
}

func TestExtractParsesFencedJSON(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, "```json\n{\"location\": \"river\", \"victims\": 3}\n```")
	c := testClient(srv)

	res, err := c.Run(context.Background(), credits.OpExtract, map[string]any{"summary": "Three people at the river"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"location": "river", "victims": 3.0}, res.Fields)
}

func TestExtractRejectsProse(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, "I could not find any facts.")
	c := testClient(srv)

	_, err := c.Run(context.Background(), credits.OpExtract, map[string]any{"summary": "text"})
	assert.ErrorIs(t, err, ErrBadOutput)
}

func TestRunProviderFailure(t *testing.T) {
	srv, _ := completionServer(t, http.StatusInternalServerError, "")
	c := testClient(srv)

	_, err := c.Run(context.Background(), credits.OpSummarize, map[string]any{"title": "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBadOutput))
}

func TestRunRejectsBeforeCallingProvider(t *testing.T) {
	srv, requests := completionServer(t, http.StatusOK, "unused")
	c := testClient(srv)

	_, err := c.Run(context.Background(), credits.OpSummarize, map[string]any{"title": "  "})
	assert.ErrorIs(t, err, ErrEmptyRecord)

	_, err = c.Run(context.Background(), credits.Operation("translate"), map[string]any{"title": "x"})
	assert.ErrorIs(t, err, credits.ErrUnknownOperation)

	assert.Empty(t, *requests)
}
