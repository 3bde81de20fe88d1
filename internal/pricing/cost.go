package pricing

import "github.com/davidbz/conduit/internal/domain"

// Compute expands raw token usage into tokens and cost.
// Local services always cost zero. A nil entry yields token totals only.
func Compute(entry *Entry, raw *domain.TokenUsage, local bool) domain.Usage {
	var usage domain.Usage
	if raw != nil {
		usage.InputTokens = raw.InputTokens
		usage.OutputTokens = raw.OutputTokens
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	usage.Local = local

	if local {
		usage.Priced = true
		return usage
	}
	if entry == nil {
		return usage
	}

	usage.InputCost = float64(usage.InputTokens) * entry.InputCostPerToken
	usage.OutputCost = float64(usage.OutputTokens) * entry.OutputCostPerToken
	usage.TotalCost = usage.InputCost + usage.OutputCost
	usage.Priced = true
	return usage
}
