package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// wireLineItem is the line item shape returned by the LLM providers, with
// amounts in the main currency unit
type wireLineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Amount      float64 `json:"amount"`
}

// wireResult is the JSON shape returned by the LLM providers
type wireResult struct {
	Vendor    string         `json:"vendor"`
	Date      string         `json:"date"`
	LineItems []wireLineItem `json:"line_items"`
	Total     float64        `json:"total"`
	Flags     []string       `json:"flags"`
}

// toCents converts a currency amount to cents
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// parseInvoiceJSON parses the JSON response from an LLM provider into an
// extraction result
func parseInvoiceJSON(text string) (*ExtractionResult, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	// Extract just the JSON part
	text = text[startIdx : endIdx+1]

	var wire wireResult
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result := &ExtractionResult{
		Vendor:         strings.TrimSpace(wire.Vendor),
		Date:           normalizeDate(wire.Date),
		TotalCents:     toCents(wire.Total),
		CoherenceFlags: wire.Flags,
	}
	if result.Vendor == "" {
		result.Vendor = "Unknown Vendor"
	}

	result.LineItems = make([]LineItem, 0, len(wire.LineItems))
	for _, item := range wire.LineItems {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		result.LineItems = append(result.LineItems, LineItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    quantity,
			AmountCents: toCents(item.Amount),
		})
	}

	return result, nil
}

// normalizeDate coerces a provider-supplied date into YYYY-MM-DD, falling
// back to today when the value cannot be parsed
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Now().Format("2006-01-02")
	}

	if parsed, err := time.Parse("2006-01-02", date); err == nil {
		return parsed.Format("2006-01-02")
	}

	// Try other common formats
	formats := []string{
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if parsed, err := time.Parse(format, date); err == nil {
			return parsed.Format("2006-01-02")
		}
	}

	return time.Now().Format("2006-01-02")
}
