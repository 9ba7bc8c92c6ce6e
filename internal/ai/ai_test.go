package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/prompts"
	"github.com/jackzampolin/imaginize/internal/prompts/analyze"
	"github.com/jackzampolin/imaginize/internal/providers"
)

// staticClients hands back fixed clients, standing in for the registry.
type staticClients struct {
	chat  providers.ChatClient
	image providers.ImageClient
}

func (s staticClients) Chat() (providers.ChatClient, error) {
	if s.chat == nil {
		return nil, fmt.Errorf("no chat client configured")
	}
	return s.chat, nil
}

func (s staticClients) Image() (providers.ImageClient, error) {
	if s.image == nil {
		return nil, fmt.Errorf("no image client configured")
	}
	return s.image, nil
}

func newTestFacade(t *testing.T, chat providers.ChatClient, image providers.ImageClient, bookDir string) *Facade {
	t.Helper()
	f, err := New(Options{
		Clients: staticClients{chat: chat, image: image},
		BookID:  "book-test",
		BookDir: bookDir,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return f
}

func testChapter() book.ChapterSpec {
	return book.ChapterSpec{
		Index:          3,
		Title:          "The Locked Door",
		RawText:        "Mira pressed her palm against the door. After a long moment, it opened.",
		IsStoryContent: true,
	}
}

const validAnalysisJSON = `{
	"scenes": [
		{
			"pageRef": "31",
			"sourceQuote": "After a long moment, it opened.",
			"visualDescription": "A tall wooden door swings inward onto a dim hall, a young woman silhouetted in the frame."
		}
	],
	"entities": [
		{
			"type": "character",
			"name": "Mira",
			"description": "A young archivist with ink-stained hands."
		}
	]
}`

func TestNewRequiresClients(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error when no client source is given")
	}
}

func TestAnalyzeChapterUnified(t *testing.T) {
	mock := providers.NewMockChatClient()
	mock.Responses = []*providers.ChatResult{{
		Content:     validAnalysisJSON,
		ParsedJSON:  json.RawMessage(validAnalysisJSON),
		TotalTokens: 140,
	}}
	f := newTestFacade(t, mock, nil, "")

	analysis, err := f.AnalyzeChapterUnified(context.Background(), testChapter(), "- Mira (character): a young archivist", 2)
	if err != nil {
		t.Fatalf("AnalyzeChapterUnified() error: %v", err)
	}
	if len(analysis.Scenes) != 1 {
		t.Fatalf("expected 1 scene, got %d", len(analysis.Scenes))
	}
	if analysis.Scenes[0].PageRef != "31" {
		t.Errorf("scene pageRef = %q, want %q", analysis.Scenes[0].PageRef, "31")
	}
	if len(analysis.Entities) != 1 || analysis.Entities[0].Name != "Mira" {
		t.Errorf("unexpected entities: %+v", analysis.Entities)
	}
	if analysis.TokensUsed != 140 {
		t.Errorf("TokensUsed = %d, want 140", analysis.TokensUsed)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if len(reqs[0].Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(reqs[0].Messages))
	}
	user := reqs[0].Messages[1].Content
	for _, want := range []string{"Chapter 3", "The Locked Door", "Scene target: 2", "Mira pressed her palm"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if reqs[0].ResponseFormat == nil {
		t.Error("expected a structured response format on the request")
	}

	sum := f.Ledger().Summary()
	if sum.Calls != 1 || sum.TotalTokens != 140 {
		t.Errorf("ledger = %+v, want 1 call / 140 tokens", sum)
	}
}

func TestAnalyzeChapterUnifiedRepairsOnce(t *testing.T) {
	bad := `{"scenes": "not an array"}`
	mock := providers.NewMockChatClient()
	mock.Responses = []*providers.ChatResult{
		{Content: bad, ParsedJSON: json.RawMessage(bad), TotalTokens: 90},
		{Content: validAnalysisJSON, ParsedJSON: json.RawMessage(validAnalysisJSON), TotalTokens: 130},
	}
	f := newTestFacade(t, mock, nil, "")

	analysis, err := f.AnalyzeChapterUnified(context.Background(), testChapter(), "", 1)
	if err != nil {
		t.Fatalf("AnalyzeChapterUnified() error: %v", err)
	}
	if got := mock.RequestCount(); got != 2 {
		t.Fatalf("expected exactly 2 calls (original + repair), got %d", got)
	}
	if analysis.TokensUsed != 220 {
		t.Errorf("TokensUsed = %d, want both attempts counted (220)", analysis.TokensUsed)
	}

	// The repair call replays the conversation: original messages, the
	// bad output as assistant turn, then the repair instruction.
	repair := mock.Requests()[1]
	if len(repair.Messages) != 4 {
		t.Fatalf("repair request has %d messages, want 4", len(repair.Messages))
	}
	if repair.Messages[2].Role != "assistant" || repair.Messages[2].Content != bad {
		t.Errorf("expected bad output echoed as assistant turn, got %+v", repair.Messages[2])
	}
	last := repair.Messages[3]
	if last.Role != "user" || !strings.Contains(last.Content, "schema") {
		t.Errorf("expected repair instruction as final user turn, got %+v", last)
	}
}

func TestAnalyzeChapterUnifiedFailsAfterRepair(t *testing.T) {
	bad := `{"entities": 7}`
	mock := providers.NewMockChatClient()
	mock.Responses = []*providers.ChatResult{
		{Content: bad, ParsedJSON: json.RawMessage(bad), TotalTokens: 50},
	}
	f := newTestFacade(t, mock, nil, "")

	_, err := f.AnalyzeChapterUnified(context.Background(), testChapter(), "", 1)
	if err == nil {
		t.Fatal("expected error after two invalid replies")
	}
	if !providers.IsBadResponse(err) {
		t.Fatalf("expected BadResponseError, got %T: %v", err, err)
	}
	if got := mock.RequestCount(); got != 2 {
		t.Errorf("expected exactly 2 calls, got %d", got)
	}
}

func TestAnalyzeChapterUnifiedTransportPassThrough(t *testing.T) {
	mock := providers.NewMockChatClient()
	mock.Errors = []error{&providers.RateLimitError{Message: "slow down", StatusCode: 429}}
	f := newTestFacade(t, mock, nil, "")

	_, err := f.AnalyzeChapterUnified(context.Background(), testChapter(), "", 1)
	if err == nil {
		t.Fatal("expected the rate-limit error to surface")
	}
	if _, ok := providers.IsRateLimitError(err); !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("transport errors must not trigger a repair call, got %d calls", got)
	}
}

func TestEnrichDescription(t *testing.T) {
	t.Run("consolidates details", func(t *testing.T) {
		mock := providers.NewMockChatClient()
		mock.ResponseJSON = json.RawMessage(`{"description": "A weathered captain with a silver beard and a pronounced limp."}`)
		f := newTestFacade(t, mock, nil, "")

		got, err := f.EnrichDescription(context.Background(), "Captain Orane", elements.TypeCharacter,
			"A weathered captain.", []string{"Has a silver beard.", "Walks with a limp."})
		if err != nil {
			t.Fatalf("EnrichDescription() error: %v", err)
		}
		if !strings.Contains(got, "silver beard") {
			t.Errorf("consolidated description missing detail: %q", got)
		}
	})

	t.Run("no details short-circuits", func(t *testing.T) {
		mock := providers.NewMockChatClient()
		f := newTestFacade(t, mock, nil, "")

		got, err := f.EnrichDescription(context.Background(), "Orane", elements.TypeCharacter, "A captain.", nil)
		if err != nil {
			t.Fatalf("EnrichDescription() error: %v", err)
		}
		if got != "A captain." {
			t.Errorf("expected base back unchanged, got %q", got)
		}
		if mock.RequestCount() != 0 {
			t.Error("expected no model call without details")
		}
	})

	t.Run("empty answer keeps base", func(t *testing.T) {
		mock := providers.NewMockChatClient()
		mock.ResponseJSON = json.RawMessage(`{"description": ""}`)
		f := newTestFacade(t, mock, nil, "")

		got, err := f.EnrichDescription(context.Background(), "Orane", elements.TypeCharacter, "A captain.", []string{"x"})
		if err != nil {
			t.Fatalf("EnrichDescription() error: %v", err)
		}
		if got != "A captain." {
			t.Errorf("expected base back on empty answer, got %q", got)
		}
	})
}

func TestGenerateImage(t *testing.T) {
	mock := providers.NewMockImageClient()
	f := newTestFacade(t, nil, mock, "")

	png, err := f.GenerateImage(context.Background(), "A tall wooden door in a dim hall.", "1024x1024")
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}
	if !strings.HasPrefix(string(png), "\x89PNG") {
		t.Errorf("expected PNG bytes, got %q", png[:min(len(png), 8)])
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 image request, got %d", len(reqs))
	}
	if reqs[0].Size != "1024x1024" {
		t.Errorf("size = %q, want 1024x1024", reqs[0].Size)
	}
	if sum := f.Ledger().Summary(); sum.Calls != 1 {
		t.Errorf("ledger calls = %d, want 1", sum.Calls)
	}
}

func TestGenerateImageErrorPassThrough(t *testing.T) {
	mock := providers.NewMockImageClient()
	mock.Errors = []error{&providers.RateLimitError{Message: "busy", StatusCode: 429}}
	f := newTestFacade(t, nil, mock, "")

	_, err := f.GenerateImage(context.Background(), "prompt", "")
	if _, ok := providers.IsRateLimitError(err); !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if sum := f.Ledger().Summary(); sum.Failures != 1 {
		t.Errorf("ledger failures = %d, want 1", sum.Failures)
	}
}

func TestPromptOverrideFlowsIntoRequests(t *testing.T) {
	dir := t.TempDir()
	override := prompts.OverridePath(dir, analyze.PromptKey)
	if err := os.MkdirAll(filepath.Dir(override), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(override, []byte("Custom analyst instructions."), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := providers.NewMockChatClient()
	mock.Responses = []*providers.ChatResult{{
		Content:    validAnalysisJSON,
		ParsedJSON: json.RawMessage(validAnalysisJSON),
	}}
	f := newTestFacade(t, mock, nil, dir)

	if got := f.PromptText(analyze.PromptKey); got != "Custom analyst instructions." {
		t.Fatalf("PromptText() = %q, want the override", got)
	}
	if _, err := f.AnalyzeChapterUnified(context.Background(), testChapter(), "", 1); err != nil {
		t.Fatalf("AnalyzeChapterUnified() error: %v", err)
	}
	if sys := mock.Requests()[0].Messages[0].Content; sys != "Custom analyst instructions." {
		t.Errorf("system message = %q, want the override", sys)
	}
}
