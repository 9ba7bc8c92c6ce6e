package providers

import "strings"

// Tier is the provider pricing tier governing scheduler pacing.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// ParseTier converts an explicit config value to a Tier.
// Returns ok=false for anything that is not "free" or "paid".
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return TierFree, true
	case "paid":
		return TierPaid, true
	default:
		return "", false
	}
}

// DetectTier infers the tier from model id and base URL. Explicit config
// should win over this; the ":free" model suffix is an OpenRouter
// convention and brittle as a primary signal.
func DetectTier(modelID, baseURL string) Tier {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(modelID)), ":free") {
		return TierFree
	}
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "free.") || strings.Contains(lower, "/free") {
		return TierFree
	}
	return TierPaid
}

// ResolveTier picks the tier: explicit config value when valid,
// detection from model id and base URL otherwise.
func ResolveTier(explicit, modelID, baseURL string) Tier {
	if t, ok := ParseTier(explicit); ok {
		return t
	}
	return DetectTier(modelID, baseURL)
}

// DetectProvider picks the concrete client type from model id and base
// URL. A pure function: "openai" for api.openai.com or bare OpenAI model
// names (gpt-*, dall-e-*, o-series), "openrouter" for everything else.
// OpenRouter model ids carry a vendor prefix ("anthropic/...",
// "google/...") and OpenRouter speaks the OpenAI chat format for all of
// them.
func DetectProvider(modelID, baseURL string) string {
	lower := strings.ToLower(strings.TrimSpace(baseURL))
	if strings.Contains(lower, "api.openai.com") {
		return OpenAIName
	}
	if strings.Contains(lower, "openrouter.ai") {
		return OpenRouterName
	}
	if baseURL == "" && isOpenAIModel(modelID) {
		return OpenAIName
	}
	return OpenRouterName
}

func isOpenAIModel(modelID string) bool {
	m := strings.ToLower(strings.TrimSpace(modelID))
	if strings.Contains(m, "/") {
		return false
	}
	for _, prefix := range []string{"gpt-", "dall-e", "o1", "o3", "o4", "chatgpt"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
