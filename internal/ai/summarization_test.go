package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewjhunter/newsai/internal/storage"
)

// fakeBackend records requests and returns canned output.
type fakeBackend struct {
	reply    string
	err      error
	requests []Request
}

func (f *fakeBackend) Complete(_ context.Context, req Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeBackend) Name() string { return "fake" }

func TestSummarize(t *testing.T) {
	backend := &fakeBackend{reply: "A short summary."}
	cfg := storage.DefaultConfig()
	cfg.LLM.SummaryModel = "sum-model"
	p := NewProcessor(backend, cfg)

	res, err := p.Summarize(context.Background(), "Body text", "")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", res.Text)
	assert.Equal(t, "sum-model", res.Model)
	assert.Equal(t, defaultSummaryPrompt, res.Prompt)

	require.Len(t, backend.requests, 1)
	assert.Contains(t, backend.requests[0].Prompt, "Body text")
	assert.Equal(t, 0.3, backend.requests[0].Temperature)
}

func TestSummarizeOverrideIsRecorded(t *testing.T) {
	backend := &fakeBackend{reply: "ok"}
	p := NewProcessor(backend, nil)

	res, err := p.Summarize(context.Background(), "Body", "One line please: {text}")
	require.NoError(t, err)
	assert.Equal(t, "One line please: {{.Text}}", res.Prompt)
	assert.Equal(t, "One line please: Body", backend.requests[0].Prompt)
}

func TestSummarizeFailures(t *testing.T) {
	p := NewProcessor(&fakeBackend{err: errors.New("quota exceeded")}, nil)
	_, err := p.Summarize(context.Background(), "Body", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = NewProcessor(&fakeBackend{reply: "x"}, nil).Summarize(context.Background(), "  ", "")
	assert.ErrorIs(t, err, errEmptyText)

	_, err = NewProcessor(nil, nil).Summarize(context.Background(), "Body", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractTags(t *testing.T) {
	backend := &fakeBackend{reply: "AI, Policy,ai, Regulation"}
	p := NewProcessor(backend, nil)

	tags, res, err := p.ExtractTags(context.Background(), "Body", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"AI", "Policy", "Regulation"}, tags)
	assert.Equal(t, defaultTagsPrompt, res.Prompt)
}

func TestExtractTagsNoContent(t *testing.T) {
	backend := &fakeBackend{reply: "x"}
	tags, _, err := NewProcessor(backend, nil).ExtractTags(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Empty(t, backend.requests, "no model call without content")
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Technology,Artificial Intelligence,Startups", []string{"Technology", "Artificial Intelligence", "Startups"}},
		{"Tags: \"space\", 'nasa'", []string{"space", "nasa"}},
		{"- climate\n- energy\n- climate", []string{"climate", "energy"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.in), "ParseTags(%q)", tt.in)
	}
}

func TestAnswerUsesArticleAndHistory(t *testing.T) {
	backend := &fakeBackend{reply: "Because."}
	p := NewProcessor(backend, nil)
	history := []Turn{{Question: "first?", Answer: "yes"}}

	res, err := p.Answer(context.Background(), "The article.", "why?", history, "")
	require.NoError(t, err)
	assert.Equal(t, "Because.", res.Text)
	assert.Equal(t, defaultChatPrompt, res.Prompt)

	req := backend.requests[0]
	assert.Contains(t, req.Prompt, "The article.")
	assert.Contains(t, req.Prompt, "why?")
	assert.Equal(t, history, req.History)
}

func TestAnswerWithoutArticle(t *testing.T) {
	backend := &fakeBackend{reply: "Sorry."}
	p := NewProcessor(backend, nil)

	res, err := p.Answer(context.Background(), "", "what happened?", nil, "custom {article_text}")
	require.NoError(t, err)
	assert.Equal(t, defaultChatNoArticlePrompt, res.Prompt, "override does not apply without article text")
	assert.Contains(t, backend.requests[0].Prompt, "what happened?")
}

func TestAnswerRequiresQuestion(t *testing.T) {
	_, err := NewProcessor(&fakeBackend{}, nil).Answer(context.Background(), "text", " ", nil, "")
	assert.Error(t, err)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 10))
	assert.Equal(t, "héllo"+truncationMarker, TruncateText("héllo world", 5))

	long := strings.Repeat("a", DefaultChatContextChars+10)
	got := TruncateText(long, DefaultChatContextChars)
	assert.True(t, strings.HasSuffix(got, " [Content Truncated]"))
	assert.Len(t, got, DefaultChatContextChars+len(truncationMarker))
}

func TestOllamaBackendGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "llama3" {
			t.Errorf("model = %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3","response":"  generated text ","done":true}` + "\n"))
	}))
	defer srv.Close()

	b, err := NewOllamaBackend(srv.URL, 5*time.Second)
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), Request{Model: "llama3", Prompt: "hi", Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
}

func TestOllamaBackendChatWithHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 3 || req.Messages[1].Role != "assistant" || req.Messages[2].Content != "and now?" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"answer"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	b, err := NewOllamaBackend(srv.URL, 5*time.Second)
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), Request{
		Model:   "llama3",
		Prompt:  "and now?",
		History: []Turn{{Question: "before?", Answer: "yes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOllamaBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	b, err := NewOllamaBackend(srv.URL, 5*time.Second)
	require.NoError(t, err)
	_, err = b.Complete(context.Background(), Request{Model: "missing", Prompt: "hi"})
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	cfg := storage.DefaultConfig()
	b, err := NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", b.Name())

	cfg.LLM.Provider = "gemini"
	cfg.LLM.GeminiAPIKey = ""
	_, err = NewBackend(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnavailable)

	cfg.LLM.Provider = "other"
	_, err = NewBackend(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewBackendErrorIsUntypedNil(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.LLM.OllamaBaseURL = "not a url"
	b, err := NewBackend(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, b == nil, "a failed backend must be a nil interface")
}
