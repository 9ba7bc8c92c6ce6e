// Package ai is the facade the pipeline phases call instead of raw
// provider clients. It owns prompt construction from the embedded packs
// (with book-level overrides), structured-output validation with a
// single repair re-prompt, the entity-resolution cache, and per-book
// token accounting.
//
// Retry policy does not live here: every method makes at most two model
// calls (the original plus one repair), and transport, rate-limit, and
// auth errors pass through untouched for the scheduler to classify.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/prompts"
	"github.com/jackzampolin/imaginize/internal/prompts/analyze"
	"github.com/jackzampolin/imaginize/internal/prompts/enrich"
	"github.com/jackzampolin/imaginize/internal/prompts/illustrate"
	"github.com/jackzampolin/imaginize/internal/prompts/resolve"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/rescache"
)

// Clients yields the current chat and image clients.
// *providers.Registry satisfies it; tests plug in fixed mocks.
type Clients interface {
	Chat() (providers.ChatClient, error)
	Image() (providers.ImageClient, error)
}

// Options configures a Facade. Clients is required; everything else has
// a usable zero value.
type Options struct {
	Clients Clients

	// Prompts is the prompt resolver. Nil builds a fresh resolver with
	// the built-in phase packs registered.
	Prompts *prompts.Resolver

	// Cache is the entity-resolution cache. Nil builds a default one.
	Cache *rescache.Cache

	// Ledger accumulates token usage. Nil builds a fresh ledger.
	Ledger *TokenLedger

	// BookID labels ledger output.
	BookID string

	// BookDir is the book output directory. It enables prompt overrides
	// and resolution-cache persistence; empty disables both.
	BookDir string

	Logger *slog.Logger
}

// Facade bundles the model-facing operations of the pipeline.
type Facade struct {
	clients Clients
	prompts *prompts.Resolver
	cache   *rescache.Cache
	ledger  *TokenLedger
	bookDir string
	logger  *slog.Logger
}

// New creates a Facade.
func New(opts Options) (*Facade, error) {
	if opts.Clients == nil {
		return nil, fmt.Errorf("ai: client source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := opts.Prompts
	if resolver == nil {
		resolver = prompts.NewResolver(logger)
		RegisterDefaultPrompts(resolver)
	}
	cache := opts.Cache
	if cache == nil {
		cache = rescache.New(rescache.DefaultSize, rescache.DefaultTTL)
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = NewTokenLedger(opts.BookID)
	}
	return &Facade{
		clients: opts.Clients,
		prompts: resolver,
		cache:   cache,
		ledger:  ledger,
		bookDir: opts.BookDir,
		logger:  logger,
	}, nil
}

// RegisterDefaultPrompts loads every phase prompt pack into a resolver.
func RegisterDefaultPrompts(r *prompts.Resolver) {
	analyze.RegisterPrompts(r)
	resolve.RegisterPrompts(r)
	enrich.RegisterPrompts(r)
	illustrate.RegisterPrompts(r)
}

// Ledger returns the token ledger shared by every call on this facade.
func (f *Facade) Ledger() *TokenLedger {
	return f.ledger
}

// PromptText resolves a prompt key against the book's override files,
// returning the embedded default when no override exists and the empty
// string when the key itself is unknown.
func (f *Facade) PromptText(key string) string {
	p, err := f.prompts.Resolve(key, f.bookDir)
	if err != nil {
		f.logger.Warn("prompt resolution failed", "key", key, "error", err)
		return ""
	}
	return p.Text
}

// ChapterAnalysis is the unified analyze result for one chapter.
type ChapterAnalysis struct {
	Scenes   []analyze.Scene
	Entities []analyze.Entity

	// TokensUsed covers every model call made for this chapter,
	// including a failed first attempt before a repair.
	TokensUsed int
}

// AnalyzeChapterUnified runs the single-call chapter analysis: the
// scenes worth illustrating plus the story elements appearing, in one
// structured response. An unparseable or schema-invalid reply is
// re-prompted once before the call fails with BadResponseError.
func (f *Facade) AnalyzeChapterUnified(ctx context.Context, ch book.ChapterSpec, elementContext string, numScenes int) (*ChapterAnalysis, error) {
	req := analyze.BuildRequest(analyze.Input{
		ChapterIndex:         ch.Index,
		ChapterTitle:         ch.Title,
		ChapterText:          ch.RawText,
		ElementContext:       elementContext,
		NumScenes:            numScenes,
		SystemPromptOverride: f.PromptText(analyze.PromptKey),
	})

	result, tokens, err := f.chatStructured(ctx, analyze.PromptKey, req)
	if err != nil {
		return nil, err
	}
	parsed, err := analyze.ParseResult(result.ParsedJSON)
	if err != nil {
		return nil, &providers.BadResponseError{Message: err.Error(), Raw: result.Content}
	}
	return &ChapterAnalysis{
		Scenes:     parsed.Scenes,
		Entities:   parsed.Entities,
		TokensUsed: tokens,
	}, nil
}

// EnrichDescription consolidates a base description and accumulated
// detail fragments into one rewritten description. No details means
// nothing to do. An empty model answer keeps the base.
func (f *Facade) EnrichDescription(ctx context.Context, name string, entityType elements.Type, base string, details []string) (string, error) {
	if len(details) == 0 {
		return base, nil
	}
	req := enrich.BuildRequest(enrich.Input{
		EntityName:           name,
		EntityType:           string(entityType),
		Base:                 base,
		Details:              details,
		SystemPromptOverride: f.PromptText(enrich.PromptKey),
	})

	result, _, err := f.chatStructured(ctx, enrich.PromptKey, req)
	if err != nil {
		return "", err
	}
	parsed, err := enrich.ParseResult(result.ParsedJSON)
	if err != nil {
		return "", &providers.BadResponseError{Message: err.Error(), Raw: result.Content}
	}
	desc := strings.TrimSpace(parsed.Description)
	if desc == "" {
		f.logger.Warn("consolidation returned empty description, keeping base", "entity", name)
		return base, nil
	}
	return desc, nil
}

// GenerateImage produces PNG bytes for a finished illustration prompt.
func (f *Facade) GenerateImage(ctx context.Context, prompt, size string) ([]byte, error) {
	client, err := f.clients.Image()
	if err != nil {
		return nil, err
	}
	result, err := client.GenerateImage(ctx, &providers.ImageRequest{
		Prompt: prompt,
		Size:   size,
	})
	f.ledger.RecordImage(illustrate.PromptKey, result, err)
	if err != nil {
		return nil, err
	}
	if len(result.PNG) == 0 {
		return nil, &providers.BadResponseError{Message: "image call returned no bytes"}
	}
	return result.PNG, nil
}

// chatStructured performs one structured chat call with a single repair
// pass: the first unusable reply (client parse failure or schema
// validation failure) is played back to the model with the issue named,
// and a second unusable reply fails the call. Returns the usable result
// and the token total across both attempts.
func (f *Facade) chatStructured(ctx context.Context, promptKey string, req *providers.ChatRequest) (*providers.ChatResult, int, error) {
	client, err := f.clients.Chat()
	if err != nil {
		return nil, 0, err
	}

	tokens := 0
	result, err := client.Chat(ctx, req)
	f.ledger.RecordChat(promptKey, result, err)
	if result != nil {
		tokens += result.TotalTokens
	}
	if err != nil && !providers.IsBadResponse(err) {
		return nil, tokens, err
	}

	issue := structuredIssue(req, result, err)
	if issue == nil {
		return result, tokens, nil
	}

	f.logger.Warn("structured output unusable, re-prompting once",
		"prompt", promptKey, "issue", issue)

	repair := repairRequest(req, result, issue)
	result, err = client.Chat(ctx, repair)
	f.ledger.RecordChat(promptKey, result, err)
	if result != nil {
		tokens += result.TotalTokens
	}
	if err != nil && !providers.IsBadResponse(err) {
		return nil, tokens, err
	}
	if issue := structuredIssue(repair, result, err); issue != nil {
		raw := ""
		if result != nil {
			raw = result.Content
		}
		return nil, tokens, &providers.BadResponseError{
			Message: fmt.Sprintf("output still invalid after repair prompt: %v", issue),
			Raw:     raw,
		}
	}
	return result, tokens, nil
}

// structuredIssue reports why a structured reply is unusable, or nil
// when it can be handed to the caller.
func structuredIssue(req *providers.ChatRequest, result *providers.ChatResult, callErr error) error {
	if callErr != nil {
		return callErr
	}
	if req.ResponseFormat == nil {
		return nil
	}
	if result == nil || len(result.ParsedJSON) == 0 {
		return &providers.BadResponseError{Message: "response carried no JSON payload"}
	}
	return providers.ValidateStructuredJSON(req.ResponseFormat.JSONSchema, result.ParsedJSON)
}

// repairRequest replays the conversation with the bad output and the
// validation issue appended, asking for schema-conformant JSON only.
func repairRequest(req *providers.ChatRequest, result *providers.ChatResult, issue error) *providers.ChatRequest {
	var schema json.RawMessage
	if req.ResponseFormat != nil {
		schema = req.ResponseFormat.JSONSchema
	}
	raw := ""
	if result != nil {
		raw = result.Content
	}

	msgs := make([]providers.Message, 0, len(req.Messages)+2)
	msgs = append(msgs, req.Messages...)
	if raw != "" {
		msgs = append(msgs, providers.Message{Role: "assistant", Content: raw})
	}
	msgs = append(msgs, providers.Message{
		Role:    "user",
		Content: providers.StructuredRepairPrompt(schema, raw, issue),
	})

	out := *req
	out.Messages = msgs
	return &out
}
