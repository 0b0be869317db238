package src

import "fmt"

// DefaultModel is the balanced default used when no model is configured.
const DefaultModel = "llama-2-70B"

// ModelInfo describes one entry of the Groq model catalog.
type ModelInfo struct {
	ID            string
	Alias         string
	Description   string
	ContextWindow int
}

// Catalog lists the models CodeFlow knows how to talk to.
func Catalog() []ModelInfo {
	return []ModelInfo{
		{ID: "llama-3.1-8B", Alias: "fast", Description: "Fast 8B model for quick responses", ContextWindow: 131072},
		{ID: "llama-2-70B", Alias: "balanced", Description: "Balanced 70B model for general use", ContextWindow: 65536},
		{ID: "llama-3.1-70B", Alias: "powerful", Description: "Powerful 70B model for complex tasks", ContextWindow: 131072},
		{ID: "llama-3.1-405B", Alias: "ultra", Description: "Ultra 405B model for maximum capability", ContextWindow: 131072},
		{ID: "mixtral-8x7b-32768", Alias: "mixtral", Description: "Mixture of experts with 32K context", ContextWindow: 32768},
		{ID: "gemma-7b-it", Alias: "gemma", Description: "Google Gemma 7B instruction-tuned", ContextWindow: 8192},
		{ID: "compound-beta", Alias: "compound", Description: "Multi-tool high-capability model", ContextWindow: 131072},
		{ID: "compound-beta-mini", Alias: "compound-mini", Description: "Single-tool low-latency model", ContextWindow: 131072},
	}
}

// fallbackChain is walked when a configured model is unavailable.
var fallbackChain = []string{"llama-2-70B", "llama-3.1-8B", "compound-beta"}

// ResolveModel accepts a model ID or alias and returns the catalog entry.
func ResolveModel(idOrAlias string) (ModelInfo, error) {
	for _, m := range Catalog() {
		if m.ID == idOrAlias || m.Alias == idOrAlias {
			return m, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("unknown model %q", idOrAlias)
}

// FallbackFor returns the next model to try after id. Unknown models and the
// chain end both point at the chain head; callers track which models they
// have tried to stop the walk.
func FallbackFor(id string) string {
	for i, m := range fallbackChain {
		if m == id && i+1 < len(fallbackChain) {
			return fallbackChain[i+1]
		}
	}
	if id != fallbackChain[0] {
		return fallbackChain[0]
	}
	return ""
}
