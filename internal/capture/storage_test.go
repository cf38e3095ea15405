package capture

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name     string
			data     []byte
			savedRef string
			err      error
		)

		BeforeEach(func() {
			name = "1_1_page.jpg"
			data = []byte("captured page content")
		})

		JustBeforeEach(func() {
			savedRef, err = storage.Save(name, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the reference", func() {
				Expect(savedRef).To(Equal(name))
			})

			It("should save the page image to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			data []byte
			got  []byte
			err  error
		)

		BeforeEach(func() {
			data = []byte("captured page content")
			_, saveErr := storage.Save("page.png", data)
			Expect(saveErr).NotTo(HaveOccurred())
		})

		JustBeforeEach(func() {
			got, err = storage.Get("page.png")
		})

		When("the page image exists", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored bytes", func() {
				Expect(got).To(Equal(data))
			})
		})

		When("the page image does not exist", func() {
			It("returns the error", func() {
				_, getErr := storage.Get("missing.png")
				Expect(getErr).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, saveErr := storage.Save("page.png", []byte("content"))
			Expect(saveErr).NotTo(HaveOccurred())
		})

		It("should remove the page image", func() {
			Expect(storage.Delete("page.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "page.png")).NotTo(BeAnExistingFile())
		})

		It("returns an error for a missing page image", func() {
			Expect(storage.Delete("missing.png")).NotTo(Succeed())
		})
	})
})
