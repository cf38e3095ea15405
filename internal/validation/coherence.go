package validation

import (
	"fmt"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
)

// CheckResult is the outcome of a coherence check
type CheckResult struct {
	NeedsRescan bool
	Reasons     []string
}

// Check decides whether an extraction result is internally consistent or must
// be rescanned. It is pure and deterministic: identical input always yields
// identical output, and an explicit accepted-with-issues override
// short-circuits every other signal.
func Check(result *extraction.ExtractionResult, pageCount int) CheckResult {
	if result.AcceptedWithIssues {
		return CheckResult{}
	}

	var reasons []string

	// Hints supplied by the extraction service itself
	for _, flag := range result.CoherenceFlags {
		reasons = append(reasons, fmt.Sprintf("extraction service flagged: %s", flag))
	}

	if pageCount > 0 && len(result.LineItems) == 0 {
		reasons = append(reasons, fmt.Sprintf("no line items extracted from %d page(s)", pageCount))
	}

	if len(result.LineItems) > 0 {
		var sum int64
		for _, item := range result.LineItems {
			sum += item.AmountCents
		}
		if sum != result.TotalCents {
			reasons = append(reasons, fmt.Sprintf(
				"line items sum to %d cents but the invoice total is %d cents",
				sum, result.TotalCents,
			))
		}
	}

	return CheckResult{
		NeedsRescan: len(reasons) > 0,
		Reasons:     reasons,
	}
}
