package capture

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates an unknown invoice or page id
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation that is illegal for the invoice's current status
	ErrInvalidState = errors.New("invalid state")
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Queue holds the invoices in progress for a capture session. At most one
// invoice (the current one) is accepting pages at any time; the rest are
// either still editable or waiting for validation.
//
// Queue performs no locking of its own: capture operations run to
// completion between suspension points, and callers that can trigger them
// concurrently must serialize access.
type Queue struct {
	invoices []*Invoice
	current  int64 // id of the invoice accepting pages, 0 when none

	// Counters never reset and never reuse a retired value, keeping ids
	// stable references even after removal.
	lastInvoiceID int64
	lastPageID    int64

	timeSource TimeSource
}

// NewQueue creates an empty capture queue
func NewQueue() *Queue {
	return NewQueueWithTimeSource(&defaultTimeSource{})
}

// NewQueueWithTimeSource creates a capture queue with a custom time source for testing
func NewQueueWithTimeSource(timeSource TimeSource) *Queue {
	return &Queue{
		timeSource: timeSource,
	}
}

// StartInvoice allocates a fresh invoice in editing state, appends it to the
// queue and makes it the current one.
func (q *Queue) StartInvoice(name string) *Invoice {
	q.lastInvoiceID++
	now := q.timeSource.Now()

	invoice := &Invoice{
		ID:        q.lastInvoiceID,
		Name:      name,
		Pages:     make([]*Page, 0),
		Status:    StatusEditing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.invoices = append(q.invoices, invoice)
	q.current = invoice.ID

	return invoice
}

// Get retrieves a queued invoice by id
func (q *Queue) Get(id int64) (*Invoice, error) {
	for _, invoice := range q.invoices {
		if invoice.ID == id {
			return invoice, nil
		}
	}
	return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
}

// List returns all queued invoices in creation order
func (q *Queue) List() []*Invoice {
	invoices := make([]*Invoice, len(q.invoices))
	copy(invoices, q.invoices)
	return invoices
}

// Current returns the invoice currently accepting pages, or nil if there is none
func (q *Queue) Current() *Invoice {
	if q.current == 0 {
		return nil
	}
	invoice, err := q.Get(q.current)
	if err != nil {
		return nil
	}
	return invoice
}

// AddPage appends a captured page to an invoice, preserving capture order.
// It fails with ErrNotFound if the invoice is unknown or no longer editable.
func (q *Queue) AddPage(invoiceID int64, imageRef, contentType string) (*Page, error) {
	invoice, err := q.Get(invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != StatusEditing {
		return nil, fmt.Errorf("invoice %d is %s: %w", invoiceID, invoice.Status, ErrNotFound)
	}

	q.lastPageID++
	now := q.timeSource.Now()

	page := &Page{
		ID:          q.lastPageID,
		ImageRef:    imageRef,
		ContentType: contentType,
		CreatedAt:   now,
	}
	invoice.Pages = append(invoice.Pages, page)
	invoice.UpdatedAt = now

	return page, nil
}

// RemovePage removes a page from an invoice, leaving the relative order of
// the remaining pages unchanged. Missing invoice or page ids are a silent
// no-op; the removed page (if any) is returned so callers can release the
// stored image.
func (q *Queue) RemovePage(invoiceID, pageID int64) *Page {
	invoice, err := q.Get(invoiceID)
	if err != nil {
		return nil
	}
	// pages are only removable before submission
	if invoice.Status != StatusEditing {
		return nil
	}

	for i, page := range invoice.Pages {
		if page.ID == pageID {
			invoice.Pages = append(invoice.Pages[:i], invoice.Pages[i+1:]...)
			invoice.UpdatedAt = q.timeSource.Now()
			return page
		}
	}
	return nil
}

// Advance marks the current invoice as submitted and, if another editable
// invoice exists, makes it current. It fails with ErrInvalidState unless the
// current invoice is in editing state with at least one page.
func (q *Queue) Advance() (*Invoice, error) {
	invoice := q.Current()
	if invoice == nil {
		return nil, fmt.Errorf("no current invoice: %w", ErrInvalidState)
	}
	if invoice.Status != StatusEditing {
		return nil, fmt.Errorf("invoice %d is %s: %w", invoice.ID, invoice.Status, ErrInvalidState)
	}
	if len(invoice.Pages) == 0 {
		return nil, fmt.Errorf("invoice %d has no pages: %w", invoice.ID, ErrInvalidState)
	}

	invoice.Status = StatusSubmitted
	invoice.UpdatedAt = q.timeSource.Now()

	q.current = 0
	for _, candidate := range q.invoices {
		if candidate.Status == StatusEditing {
			q.current = candidate.ID
			break
		}
	}

	return invoice, nil
}

// Remove takes an invoice out of the queue, either because it was accepted
// into history or because the user discarded it. The removed invoice is
// returned so callers can release its stored page images.
func (q *Queue) Remove(id int64) (*Invoice, error) {
	for i, invoice := range q.invoices {
		if invoice.ID == id {
			q.invoices = append(q.invoices[:i], q.invoices[i+1:]...)
			if q.current == id {
				q.current = 0
				for _, candidate := range q.invoices {
					if candidate.Status == StatusEditing {
						q.current = candidate.ID
						break
					}
				}
			}
			return invoice, nil
		}
	}
	return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
}
