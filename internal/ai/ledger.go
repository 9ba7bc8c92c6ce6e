package ai

import (
	"sync"

	"github.com/jackzampolin/imaginize/internal/providers"
)

// TokenLedger accumulates model token usage for one book across every
// facade call. Phases fold the running total into BookState at the end
// of a run; the status command surfaces the per-prompt breakdown.
type TokenLedger struct {
	mu               sync.Mutex
	bookID           string
	calls            int64
	failures         int64
	promptTokens     int64
	completionTokens int64
	totalTokens      int64
	byPrompt         map[string]int64
}

// NewTokenLedger creates an empty ledger for a book.
func NewTokenLedger(bookID string) *TokenLedger {
	return &TokenLedger{
		bookID:   bookID,
		byPrompt: make(map[string]int64),
	}
}

// RecordChat accounts one chat call. Results attached to failed calls
// still count: the provider billed those tokens too.
func (l *TokenLedger) RecordChat(promptKey string, result *providers.ChatResult, callErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if callErr != nil {
		l.failures++
	}
	if result == nil {
		return
	}
	l.promptTokens += int64(result.PromptTokens)
	l.completionTokens += int64(result.CompletionTokens)
	l.totalTokens += int64(result.TotalTokens)
	l.byPrompt[promptKey] += int64(result.TotalTokens)
}

// RecordImage accounts one image call.
func (l *TokenLedger) RecordImage(promptKey string, result *providers.ImageResult, callErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if callErr != nil {
		l.failures++
	}
	if result == nil {
		return
	}
	l.totalTokens += int64(result.TokensUsed)
	l.byPrompt[promptKey] += int64(result.TokensUsed)
}

// TotalTokens returns the running token total.
func (l *TokenLedger) TotalTokens() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalTokens
}

// Summary is a point-in-time ledger snapshot.
type Summary struct {
	BookID           string           `json:"bookId"`
	Calls            int64            `json:"calls"`
	Failures         int64            `json:"failures"`
	PromptTokens     int64            `json:"promptTokens"`
	CompletionTokens int64            `json:"completionTokens"`
	TotalTokens      int64            `json:"totalTokens"`
	ByPromptKey      map[string]int64 `json:"byPromptKey"`
}

// Summary returns a copy of the current counters.
func (l *TokenLedger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	byKey := make(map[string]int64, len(l.byPrompt))
	for k, v := range l.byPrompt {
		byKey[k] = v
	}
	return Summary{
		BookID:           l.bookID,
		Calls:            l.calls,
		Failures:         l.failures,
		PromptTokens:     l.promptTokens,
		CompletionTokens: l.completionTokens,
		TotalTokens:      l.totalTokens,
		ByPromptKey:      byKey,
	}
}
