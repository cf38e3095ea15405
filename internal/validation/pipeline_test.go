package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/capture"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/history"
)

// mockExtractor returns one queued result or error per attempt
type mockExtractor struct {
	results []*extraction.ExtractionResult
	errs    []error
	calls   int
}

func (m *mockExtractor) Extract(ctx context.Context, pages []extraction.Page) (*extraction.ExtractionResult, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return nil, errors.New("unexpected extraction call")
}

func (m *mockExtractor) Close() error {
	return nil
}

// mockStorage is a mock implementation of capture.Storage
type mockStorage struct {
	files map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{files: make(map[string][]byte)}
}

func (m *mockStorage) Save(name string, data []byte) (string, error) {
	m.files[name] = data
	return name, nil
}

func (m *mockStorage) Get(ref string) ([]byte, error) {
	data, ok := m.files[ref]
	if !ok {
		return nil, errors.New("page image not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(ref string) error {
	if _, ok := m.files[ref]; !ok {
		return errors.New("page image not found")
	}
	delete(m.files, ref)
	return nil
}

// mockHistory is a mock implementation of HistoryAppender
type mockHistory struct {
	records   []*history.Record
	appendErr error
}

func (m *mockHistory) Append(record *history.Record) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, record)
	return nil
}

// mockNotifier records notifications and answers prompts with a canned
// decision. The mutex exists because reminder ticks arrive from a goroutine.
type mockNotifier struct {
	mu            sync.Mutex
	notifications []string
	severities    []Severity
	prompts       []string
	confirm       bool
	confirmErr    error
}

func (m *mockNotifier) Notify(ctx context.Context, message string, severity Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, message)
	m.severities = append(m.severities, severity)
}

func (m *mockNotifier) PromptConfirm(ctx context.Context, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, message)
	return m.confirm, m.confirmErr
}

func (m *mockNotifier) notificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// mockTimeSource is a mock implementation of capture.TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

// incoherentResult builds a result whose totals do not reconcile
func incoherentResult() *extraction.ExtractionResult {
	return &extraction.ExtractionResult{
		Vendor: "Metro Wholesale",
		Date:   "2024-01-15",
		LineItems: []extraction.LineItem{
			{Description: "Flour 25kg", Quantity: 2, AmountCents: 4200},
		},
		TotalCents: 9999,
	}
}

var _ = Describe("Pipeline", func() {
	var (
		queue     *capture.Queue
		storage   *mockStorage
		extractor *mockExtractor
		store     *mockHistory
		notifier  *mockNotifier
		timeSrc   *mockTimeSource
		pipeline  *Pipeline

		invoice *capture.Invoice
		outcome *Outcome
		err     error
	)

	addPages := func(count int) {
		for i := 0; i < count; i++ {
			ref, saveErr := storage.Save(fmt.Sprintf("page-%d.jpg", i), []byte("page image"))
			Expect(saveErr).NotTo(HaveOccurred())
			_, addErr := queue.AddPage(invoice.ID, ref, "image/jpeg")
			Expect(addErr).NotTo(HaveOccurred())
		}
	}

	BeforeEach(func() {
		queue = capture.NewQueue()
		storage = newMockStorage()
		extractor = &mockExtractor{}
		store = &mockHistory{}
		notifier = &mockNotifier{}
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		pipeline = NewPipelineWithDeps(queue, storage, extractor, store, notifier, timeSrc, time.Hour)

		invoice = queue.StartInvoice("Metro January")
	})

	AfterEach(func() {
		pipeline.DismissReminder()
	})

	JustBeforeEach(func() {
		outcome, err = pipeline.Submit(context.Background(), invoice)
	})

	When("the invoice is not in submitted state", func() {
		It("should fail with ErrInvalidState", func() {
			Expect(err).To(MatchError(capture.ErrInvalidState))
		})

		It("should never call the extractor", func() {
			Expect(extractor.calls).To(Equal(0))
		})
	})

	When("extraction succeeds with coherent totals on the first attempt", func() {
		BeforeEach(func() {
			addPages(3)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{coherentResult()}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should end accepted", func() {
			Expect(outcome.Status).To(Equal(capture.StatusAccepted))
			Expect(invoice.Status).To(Equal(capture.StatusAccepted))
		})

		It("should call the extractor exactly once", func() {
			Expect(extractor.calls).To(Equal(1))
			Expect(outcome.Attempts).To(Equal(1))
		})

		It("should append exactly one history record", func() {
			Expect(store.records).To(HaveLen(1))
			Expect(store.records[0].InvoiceID).To(Equal(invoice.ID))
			Expect(store.records[0].AcceptedAt).To(Equal(timeSrc.now))
		})

		It("should remove the invoice from the queue", func() {
			_, getErr := queue.Get(invoice.ID)
			Expect(getErr).To(MatchError(capture.ErrNotFound))
		})

		It("should release the stored page images", func() {
			Expect(storage.files).To(BeEmpty())
		})

		It("should notify success", func() {
			Expect(notifier.severities).To(ContainElement(SeveritySuccess))
		})
	})

	When("the first attempt is incoherent and the retry is coherent", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{incoherentResult(), coherentResult()}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should end accepted after two extraction calls", func() {
			Expect(outcome.Status).To(Equal(capture.StatusAccepted))
			Expect(extractor.calls).To(Equal(2))
			Expect(outcome.Attempts).To(Equal(2))
		})

		It("should never prompt the user", func() {
			Expect(notifier.prompts).To(BeEmpty())
		})
	})

	When("both attempts are incoherent and the user declines the override", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{incoherentResult(), incoherentResult()}
			notifier.confirm = false
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should end rejected", func() {
			Expect(outcome.Status).To(Equal(capture.StatusRejected))
			Expect(invoice.Status).To(Equal(capture.StatusRejected))
		})

		It("should call the extractor exactly twice", func() {
			Expect(extractor.calls).To(Equal(2))
		})

		It("should append nothing to history", func() {
			Expect(store.records).To(BeEmpty())
		})

		It("should surface the reasons", func() {
			Expect(outcome.Reasons).NotTo(BeEmpty())
			Expect(notifier.prompts).To(HaveLen(1))
		})
	})

	When("both attempts are incoherent and the user accepts with issues", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{incoherentResult(), incoherentResult()}
			notifier.confirm = true
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should end accepted via the override path", func() {
			Expect(outcome.Status).To(Equal(capture.StatusAccepted))
		})

		It("should record the accepted-with-issues flag", func() {
			Expect(store.records).To(HaveLen(1))
			Expect(store.records[0].AcceptedWithIssues).To(BeTrue())
			Expect(store.records[0].Result.AcceptedWithIssues).To(BeTrue())
		})
	})

	When("the extraction call fails in transport", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.errs = []error{errors.New("connection refused"), nil}
			extractor.results = []*extraction.ExtractionResult{nil, coherentResult()}
		})

		It("should consume the retry budget and accept on the second attempt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(capture.StatusAccepted))
			Expect(extractor.calls).To(Equal(2))
		})
	})

	When("both attempts fail in transport", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.errs = []error{errors.New("connection refused"), errors.New("connection refused")}
		})

		It("should reject without prompting", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(capture.StatusRejected))
			Expect(notifier.prompts).To(BeEmpty())
		})

		It("should notify the failure", func() {
			Expect(notifier.severities).To(ContainElement(SeverityError))
		})
	})

	When("persisting the history record fails", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{coherentResult()}
			store.appendErr = errors.New("disk full")
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})

		It("should leave the invoice submitted for another try", func() {
			Expect(invoice.Status).To(Equal(capture.StatusSubmitted))
		})

		It("should keep the invoice queued", func() {
			_, getErr := queue.Get(invoice.ID)
			Expect(getErr).NotTo(HaveOccurred())
		})
	})

	Describe("save reminder", func() {
		BeforeEach(func() {
			addPages(1)
			_, advErr := queue.Advance()
			Expect(advErr).NotTo(HaveOccurred())
			extractor.results = []*extraction.ExtractionResult{coherentResult()}
			// Fast ticks so the reminder fires during the test
			pipeline = NewPipelineWithDeps(queue, storage, extractor, store, notifier, timeSrc, 5*time.Millisecond)
		})

		It("should keep reminding until dismissed", func() {
			Expect(outcome.Status).To(Equal(capture.StatusAccepted))
			before := notifier.notificationCount()
			Eventually(notifier.notificationCount).Should(BeNumerically(">", before))

			pipeline.DismissReminder()
			settled := notifier.notificationCount()
			Consistently(notifier.notificationCount, 50*time.Millisecond).Should(
				BeNumerically("<=", settled+1))
		})
	})
})
