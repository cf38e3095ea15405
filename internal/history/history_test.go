package history

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
)

func TestHistory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "History Suite")
}

func sampleResult() *extraction.ExtractionResult {
	return &extraction.ExtractionResult{
		Vendor: "Metro Wholesale",
		Date:   "2024-01-15",
		LineItems: []extraction.LineItem{
			{Description: "Flour 25kg", Quantity: 2, AmountCents: 4200},
		},
		TotalCents: 4200,
	}
}

var _ = Describe("NewRecord", func() {
	var (
		result     *extraction.ExtractionResult
		acceptedAt time.Time
		record     *Record
	)

	BeforeEach(func() {
		result = sampleResult()
		acceptedAt = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		record = NewRecord(7, "Metro January", result, acceptedAt)
	})

	It("should snapshot the invoice identity and acceptance time", func() {
		Expect(record.InvoiceID).To(Equal(int64(7)))
		Expect(record.InvoiceName).To(Equal("Metro January"))
		Expect(record.AcceptedAt).To(Equal(acceptedAt))
	})

	It("should deep-copy the result so later mutations cannot reach the snapshot", func() {
		result.LineItems[0].Description = "mutated"
		result.Vendor = "mutated"
		Expect(record.Result.LineItems[0].Description).To(Equal("Flour 25kg"))
		Expect(record.Result.Vendor).To(Equal("Metro Wholesale"))
	})

	When("the result was accepted with issues", func() {
		BeforeEach(func() {
			result.AcceptedWithIssues = true
		})

		It("should record the flag", func() {
			Expect(record.AcceptedWithIssues).To(BeTrue())
		})
	})
})

var _ = Describe("BoltStore", func() {
	var (
		tmpDir string
		store  *BoltStore
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		store, err = NewBoltStore(filepath.Join(tmpDir, "history.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("Append", func() {
		var (
			record *Record
			err    error
		)

		BeforeEach(func() {
			record = NewRecord(1, "Metro January", sampleResult(), time.Now().UTC())
		})

		JustBeforeEach(func() {
			err = store.Append(record)
		})

		When("appending succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should assign the acceptance sequence number", func() {
				Expect(record.ID).To(Equal(uint64(1)))
			})

			It("should make the record retrievable", func() {
				saved, getErr := store.Get(record.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.InvoiceName).To(Equal("Metro January"))
				Expect(saved.Result.TotalCents).To(Equal(int64(4200)))
			})
		})

		When("appending several records", func() {
			It("should assign strictly increasing ids", func() {
				second := NewRecord(2, "Second", sampleResult(), time.Now().UTC())
				Expect(store.Append(second)).To(Succeed())
				Expect(second.ID).To(BeNumerically(">", record.ID))
			})
		})
	})

	Describe("Get", func() {
		It("returns an error for an unknown record", func() {
			_, err := store.Get(42)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("List", func() {
		var records []*Record

		BeforeEach(func() {
			for _, name := range []string{"First", "Second", "Third"} {
				record := NewRecord(1, name, sampleResult(), time.Now().UTC())
				Expect(store.Append(record)).To(Succeed())
			}
		})

		JustBeforeEach(func() {
			var err error
			records, err = store.List()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return all records", func() {
			Expect(records).To(HaveLen(3))
		})

		It("should order them most recent first", func() {
			names := make([]string, 0, len(records))
			for _, record := range records {
				names = append(names, record.InvoiceName)
			}
			Expect(names).To(Equal([]string{"Third", "Second", "First"}))
		})

		When("the store is empty", func() {
			BeforeEach(func() {
				store.Close()
				var err error
				store, err = NewBoltStore(filepath.Join(tmpDir, "empty.db"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an empty list", func() {
				Expect(records).To(BeEmpty())
			})
		})
	})
})
