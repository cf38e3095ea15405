package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/capture"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/history"
)

// Severity classifies a notification for the display collaborator
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier is the display collaborator the pipeline reports to. The pipeline
// never formats HTML and never depends on a rendering technology.
type Notifier interface {
	// Notify surfaces a message to the user
	Notify(ctx context.Context, message string, severity Severity)

	// PromptConfirm asks the user a yes/no question and waits for the answer
	PromptConfirm(ctx context.Context, message string) (bool, error)
}

// HistoryAppender is what the pipeline needs from the history store
type HistoryAppender interface {
	Append(record *history.Record) error
}

const defaultReminderInterval = 5 * time.Minute

// Pipeline validates submitted invoices: it runs the extraction collaborator,
// gates acceptance behind the coherence check with a single automatic retry,
// and persists accepted results.
//
// Pipeline operations must be serialized by the caller; two concurrent Submit
// calls would race on the same invoice's retry budget.
type Pipeline struct {
	queue      *capture.Queue
	storage    capture.Storage
	extractor  extraction.Extractor
	history    HistoryAppender
	notifier   Notifier
	timeSource capture.TimeSource

	reminderInterval time.Duration
	reminderInvoice  int64
	reminderStop     chan struct{}
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// NewPipeline creates a new Pipeline with the default reminder interval and time source
func NewPipeline(queue *capture.Queue, storage capture.Storage, extractor extraction.Extractor, historyStore HistoryAppender, notifier Notifier) *Pipeline {
	return NewPipelineWithDeps(queue, storage, extractor, historyStore, notifier, &defaultTimeSource{}, defaultReminderInterval)
}

// NewPipelineWithDeps creates a new Pipeline with custom dependencies. A nil
// timeSource falls back to the wall clock.
func NewPipelineWithDeps(queue *capture.Queue, storage capture.Storage, extractor extraction.Extractor, historyStore HistoryAppender, notifier Notifier, timeSource capture.TimeSource, reminderInterval time.Duration) *Pipeline {
	if timeSource == nil {
		timeSource = &defaultTimeSource{}
	}
	if reminderInterval <= 0 {
		reminderInterval = defaultReminderInterval
	}
	return &Pipeline{
		queue:            queue,
		storage:          storage,
		extractor:        extractor,
		history:          historyStore,
		notifier:         notifier,
		timeSource:       timeSource,
		reminderInterval: reminderInterval,
	}
}

// Outcome describes how a submission cycle ended
type Outcome struct {
	Status   capture.Status               `json:"status"`
	Result   *extraction.ExtractionResult `json:"result,omitempty"`
	Reasons  []string                     `json:"reasons,omitempty"`
	Attempts int                          `json:"attempts"`
	Record   *history.Record              `json:"record,omitempty"`
}

// Submit runs one full validation cycle for a submitted invoice. The
// extraction collaborator is called at most twice: the initial attempt plus
// exactly one automatic retry when the result is incoherent or the call
// fails in transport. If the retry budget is spent on an incoherent result,
// the user is offered an explicit accept-with-issues override.
func (p *Pipeline) Submit(ctx context.Context, invoice *capture.Invoice) (*Outcome, error) {
	if invoice.Status != capture.StatusSubmitted {
		return nil, fmt.Errorf("invoice %d is %s: %w", invoice.ID, invoice.Status, capture.ErrInvalidState)
	}

	pages, err := p.loadPages(invoice)
	if err != nil {
		// The invoice stays submitted; nothing was consumed from the retry budget
		return nil, fmt.Errorf("loading pages for invoice %d: %w", invoice.ID, err)
	}

	result, check := p.attempt(ctx, invoice, pages)
	attempts := 1

	if check.NeedsRescan {
		// Retry budget is exactly one automatic attempt per invoice
		result, check = p.attempt(ctx, invoice, pages)
		attempts = 2
	}

	if !check.NeedsRescan {
		record, err := p.accept(ctx, invoice, result)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Status:   capture.StatusAccepted,
			Result:   result,
			Attempts: attempts,
			Record:   record,
		}, nil
	}

	// Budget spent. Without a result there is nothing the user could accept,
	// so a double transport failure is a plain rejection.
	if result == nil {
		p.reject(ctx, invoice, "Extraction failed twice; the invoice was rejected")
		return &Outcome{
			Status:   capture.StatusRejected,
			Attempts: attempts,
		}, nil
	}

	accepted, err := p.notifier.PromptConfirm(ctx, overridePrompt(check.Reasons))
	if err != nil {
		p.reject(ctx, invoice, "Could not obtain a decision; the invoice was rejected")
		return nil, fmt.Errorf("prompting for override on invoice %d: %w", invoice.ID, err)
	}

	if !accepted {
		p.reject(ctx, invoice, "The extraction result was rejected")
		return &Outcome{
			Status:   capture.StatusRejected,
			Result:   result,
			Reasons:  check.Reasons,
			Attempts: attempts,
		}, nil
	}

	// Explicit user override bypasses further coherence gating
	result.AcceptedWithIssues = true
	record, err := p.accept(ctx, invoice, result)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Status:   capture.StatusAccepted,
		Result:   result,
		Reasons:  check.Reasons,
		Attempts: attempts,
		Record:   record,
	}, nil
}

// attempt runs one extraction attempt and its coherence check. A transport
// failure counts as an incoherent result with no reasons.
func (p *Pipeline) attempt(ctx context.Context, invoice *capture.Invoice, pages []extraction.Page) (*extraction.ExtractionResult, CheckResult) {
	result, err := p.extractor.Extract(ctx, pages)
	if err != nil {
		slog.Warn("Extraction attempt failed",
			"invoice_id", invoice.ID,
			"pages", len(pages),
			"error", err,
		)
		return nil, CheckResult{NeedsRescan: true}
	}
	return result, Check(result, len(pages))
}

// loadPages reads the stored image of every page, in capture order
func (p *Pipeline) loadPages(invoice *capture.Invoice) ([]extraction.Page, error) {
	pages := make([]extraction.Page, 0, len(invoice.Pages))
	for _, page := range invoice.Pages {
		data, err := p.storage.Get(page.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", page.ID, err)
		}
		pages = append(pages, extraction.Page{
			Data:        data,
			ContentType: page.ContentType,
		})
	}
	return pages, nil
}

// accept persists the result, notifies the user, retires the invoice and
// schedules the recurring save reminder
func (p *Pipeline) accept(ctx context.Context, invoice *capture.Invoice, result *extraction.ExtractionResult) (*history.Record, error) {
	record := history.NewRecord(invoice.ID, invoice.Name, result, p.timeSource.Now())
	if err := p.history.Append(record); err != nil {
		// Acceptance did not happen; leave the invoice submitted so the
		// caller can try persisting again
		return nil, fmt.Errorf("appending history record for invoice %d: %w", invoice.ID, err)
	}

	invoice.Status = capture.StatusAccepted
	invoice.UpdatedAt = p.timeSource.Now()
	p.notifier.Notify(ctx, fmt.Sprintf("Invoice %q accepted (%d line items)", invoice.Name, len(result.LineItems)), SeveritySuccess)

	if _, err := p.queue.Remove(invoice.ID); err != nil {
		slog.Warn("Accepted invoice was no longer queued", "invoice_id", invoice.ID, "error", err)
	}
	p.releasePageImages(invoice)

	p.scheduleReminder(invoice.ID)

	return record, nil
}

// reject marks the invoice rejected and surfaces the failure
func (p *Pipeline) reject(ctx context.Context, invoice *capture.Invoice, message string) {
	invoice.Status = capture.StatusRejected
	invoice.UpdatedAt = p.timeSource.Now()
	p.notifier.Notify(ctx, message, SeverityError)
}

// releasePageImages deletes the stored images owned by an invoice's pages
func (p *Pipeline) releasePageImages(invoice *capture.Invoice) {
	for _, page := range invoice.Pages {
		if err := p.storage.Delete(page.ImageRef); err != nil {
			slog.Warn("Failed to delete page image", "image_ref", page.ImageRef, "error", err)
		}
	}
}

// overridePrompt builds the accept-with-issues question shown to the user
func overridePrompt(reasons []string) string {
	if len(reasons) == 0 {
		return "The extraction result looks inconsistent. Accept it anyway?"
	}
	return fmt.Sprintf(
		"The extraction result looks inconsistent (%s). Accept it anyway?",
		strings.Join(reasons, "; "),
	)
}

// scheduleReminder starts the recurring save reminder for an accepted
// invoice. A new reminder replaces the previous one; it runs until the user
// dismisses it or starts a new capture.
func (p *Pipeline) scheduleReminder(invoiceID int64) {
	p.DismissReminder()

	stop := make(chan struct{})
	p.reminderStop = stop
	p.reminderInvoice = invoiceID

	notifier := p.notifier
	interval := p.reminderInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				notifier.Notify(context.Background(), "Remember to save or export your validated invoices", SeverityInfo)
			case <-stop:
				return
			}
		}
	}()
}

// DismissReminder stops the active save reminder, if any
func (p *Pipeline) DismissReminder() {
	if p.reminderStop != nil {
		close(p.reminderStop)
		p.reminderStop = nil
		p.reminderInvoice = 0
	}
}

// CancelReminder stops the save reminder if it belongs to the given invoice.
// Used when an invoice is discarded.
func (p *Pipeline) CancelReminder(invoiceID int64) {
	if p.reminderStop != nil && p.reminderInvoice == invoiceID {
		p.DismissReminder()
	}
}
