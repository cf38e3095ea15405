package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// invoiceScanPrompt is the shared prompt used by all LLM providers for extracting invoices
const invoiceScanPrompt = `You are analyzing the pages of a single invoice, supplied in page order. Carefully read all text in every image and extract the following information:

1. **Vendor**: The supplier or business name issuing the invoice, usually in the header of the first page.

2. **Date**: The invoice date. Convert it to ISO 8601 format (YYYY-MM-DD). Common formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Line items**: Every product or service line across all pages, with its description, quantity, and line total amount. Extract only numeric values for amounts (e.g., 42.75 for $42.75).

4. **Total**: The final total or amount due, usually at the bottom of the last page.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Vendor Name",
  "date": "YYYY-MM-DD",
  "line_items": [
    {"description": "Item description", "quantity": 1, "amount": 0.00}
  ],
  "total": 0.00
}

Important:
- Amounts must be numbers (not strings), representing the main currency unit and cents
- Include every line item from every page, in reading order
- If you cannot find a field, use null for that field
- If totals or line items look inconsistent or unreadable, still return your best reading
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF to a PNG image
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Each captured page is a separate document here, so only the first PDF
	// page is rendered
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// imageToPNG converts any image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not supported by Go's standard image package
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// convertToPNG converts PDFs and non-PNG images to PNG format.
// Returns the PNG data and a boolean indicating if conversion occurred.
func convertToPNG(imageData []byte, mimeType string) ([]byte, bool, error) {
	if mimeType == "application/pdf" {
		pngData, err := pdfToImage(imageData)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, true, nil
	} else if mimeType != "image/png" || isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		pngData, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, true, nil
	}
	// Already PNG, return as-is
	return imageData, false, nil
}

// preparePage normalizes one captured page for upload: the MIME type is
// normalized and the image converted to PNG if needed
func preparePage(page Page) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(page.ContentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	data, _, err := convertToPNG(page.Data, mimeType)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// preparePages normalizes all pages of an invoice, preserving capture order
func preparePages(pages []Page) ([][]byte, error) {
	prepared := make([][]byte, 0, len(pages))
	for i, page := range pages {
		data, err := preparePage(page)
		if err != nil {
			return nil, fmt.Errorf("preparing page %d: %w", i+1, err)
		}
		prepared = append(prepared, data)
	}
	return prepared, nil
}
