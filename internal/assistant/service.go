package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/capture"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/history"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/validation"
)

// Service composes the capture queue, page storage, validation pipeline and
// history store behind a single mutex. Queue and pipeline state carry no
// locking of their own; this is the serialization point that keeps two UI
// triggers from racing on the same invoice.
type Service struct {
	mu       sync.Mutex
	queue    *capture.Queue
	storage  capture.Storage
	pipeline *validation.Pipeline
	history  history.Store
}

// NewService creates a new Service
func NewService(queue *capture.Queue, storage capture.Storage, pipeline *validation.Pipeline, historyStore history.Store) *Service {
	return &Service{
		queue:    queue,
		storage:  storage,
		pipeline: pipeline,
		history:  historyStore,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	// Keep only alphanumeric, spaces, hyphens, and underscores
	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone-generated filenames can be very long
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "page"
	}

	return base + ext
}

// StartInvoice begins a new capture. Starting a new capture dismisses any
// active save reminder.
func (s *Service) StartInvoice(name string) *capture.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipeline.DismissReminder()
	return s.queue.StartInvoice(name)
}

// AddPage stores a captured page image and appends the page to an invoice
func (s *Service) AddPage(invoiceID int64, filename string, data []byte, contentType string) (*capture.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.queue.AddPage(invoiceID, "", contentType)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d_%d_%s", invoiceID, page.ID, sanitizeFilename(filename))
	ref, err := s.storage.Save(name, data)
	if err != nil {
		// Roll the page back so the invoice never references a missing image
		s.queue.RemovePage(invoiceID, page.ID)
		return nil, fmt.Errorf("saving page image: %w", err)
	}
	page.ImageRef = ref

	return page, nil
}

// RemovePage removes a page from an invoice and releases its stored image.
// Missing ids are a silent no-op.
func (s *Service) RemovePage(invoiceID, pageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.queue.RemovePage(invoiceID, pageID)
	if page == nil || page.ImageRef == "" {
		return
	}
	if err := s.storage.Delete(page.ImageRef); err != nil {
		slog.Warn("Failed to delete page image", "image_ref", page.ImageRef, "error", err)
	}
}

// Invoices returns all queued invoices
func (s *Service) Invoices() []*capture.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.List()
}

// Invoice retrieves a queued invoice by id
func (s *Service) Invoice(id int64) (*capture.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Get(id)
}

// Current returns the invoice currently accepting pages, or nil
func (s *Service) Current() *capture.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Current()
}

// Discard removes an invoice from the queue, releases its page images and
// aborts any reminder tied to it. An in-flight extraction for a discarded
// invoice is simply dropped when it settles.
func (s *Service) Discard(invoiceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, err := s.queue.Remove(invoiceID)
	if err != nil {
		return err
	}

	s.pipeline.CancelReminder(invoiceID)

	for _, page := range invoice.Pages {
		if page.ImageRef == "" {
			continue
		}
		if err := s.storage.Delete(page.ImageRef); err != nil {
			slog.Warn("Failed to delete page image", "image_ref", page.ImageRef, "error", err)
		}
	}

	return nil
}

// Submit runs a validation cycle for an invoice. The current invoice is
// advanced out of editing first; an invoice that is already submitted (queued
// behind an earlier capture) is validated as-is.
func (s *Service) Submit(ctx context.Context, invoiceID int64) (*validation.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, err := s.queue.Get(invoiceID)
	if err != nil {
		return nil, err
	}

	switch invoice.Status {
	case capture.StatusEditing:
		current := s.queue.Current()
		if current == nil || current.ID != invoiceID {
			return nil, fmt.Errorf("invoice %d is not the current capture: %w", invoiceID, capture.ErrInvalidState)
		}
		if _, err := s.queue.Advance(); err != nil {
			return nil, err
		}
	case capture.StatusSubmitted:
		// Queued behind an earlier capture; validate as-is
	default:
		return nil, fmt.Errorf("invoice %d is %s: %w", invoiceID, invoice.Status, capture.ErrInvalidState)
	}

	return s.pipeline.Submit(ctx, invoice)
}

// SubmitCurrent advances and validates the current invoice
func (s *Service) SubmitCurrent(ctx context.Context) (*validation.Outcome, error) {
	s.mu.Lock()
	current := s.queue.Current()
	s.mu.Unlock()

	if current == nil {
		return nil, fmt.Errorf("no current invoice: %w", capture.ErrInvalidState)
	}
	return s.Submit(ctx, current.ID)
}

// DismissReminder stops the active save reminder
func (s *Service) DismissReminder() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipeline.DismissReminder()
}

// History returns all accepted records, most recent first
func (s *Service) History() ([]*history.Record, error) {
	return s.history.List()
}

// HistoryRecord retrieves one accepted record by id
func (s *Service) HistoryRecord(id uint64) (*history.Record, error) {
	return s.history.Get(id)
}
