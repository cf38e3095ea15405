package extraction

import "context"

// Page is one captured image submitted for extraction, in capture order
type Page struct {
	Data        []byte
	ContentType string
}

// LineItem is one parsed product line from an invoice
type LineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	AmountCents int64  `json:"amount_cents"` // Line total in cents
}

// ExtractionResult contains the structured data extracted from an invoice's pages.
// It is transient: produced per submission attempt and, once accepted, copied
// into a history record.
type ExtractionResult struct {
	Vendor             string     `json:"vendor"`
	Date               string     `json:"date"` // ISO 8601 format
	LineItems          []LineItem `json:"line_items"`
	TotalCents         int64      `json:"total_cents"`
	CoherenceFlags     []string   `json:"coherence_flags,omitempty"` // Hints supplied by the extraction service
	AcceptedWithIssues bool       `json:"accepted_with_issues"`
}

// Extractor defines the interface for invoice extraction operations
type Extractor interface {
	// Extract analyzes the pages of a single invoice and returns structured data.
	// Timeout policy belongs to the caller via ctx; a timeout is reported as an
	// ordinary transport error.
	Extract(ctx context.Context, pages []Page) (*ExtractionResult, error)
	// Close closes the extractor and releases resources
	Close() error
}
