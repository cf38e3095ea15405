package capture

import "time"

// Status describes where an invoice is in the capture workflow.
type Status string

const (
	// StatusEditing means the invoice is still accepting pages.
	StatusEditing Status = "editing"
	// StatusSubmitted means the invoice is queued for or undergoing validation.
	StatusSubmitted Status = "submitted"
	// StatusAccepted is terminal: the result was persisted to history.
	StatusAccepted Status = "accepted"
	// StatusRejected is terminal: validation failed and the user declined to override.
	StatusRejected Status = "rejected"
)

// Invoice represents one multi-page document being captured and validated
type Invoice struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Pages     []*Page   `json:"pages"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is one captured image belonging to an invoice, in capture order
type Page struct {
	ID          int64     `json:"id"`
	ImageRef    string    `json:"image_ref"` // Path of the stored image, owned by this page
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}
