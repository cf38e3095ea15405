package assistant

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/capture"
)

// maxPageSize bounds uploaded page images (high-resolution phone photos)
const maxPageSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeServiceError maps the core error taxonomy onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrNotFound):
		corsError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, capture.ErrInvalidState):
		corsError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Internal error", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// pathID parses a numeric path value
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// handleStartInvoice begins a new capture
func (s *Server) handleStartInvoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		corsError(w, "An invoice name is required", http.StatusBadRequest)
		return
	}

	invoice := s.service.StartInvoice(strings.TrimSpace(body.Name))
	writeJSON(w, http.StatusCreated, invoice)
}

// handleListInvoices returns all queued invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Invoices())
}

// handleCurrentInvoice returns the invoice currently accepting pages
func (s *Server) handleCurrentInvoice(w http.ResponseWriter, r *http.Request) {
	invoice := s.service.Current()
	if invoice == nil {
		corsError(w, "No current invoice", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleGetInvoice returns one queued invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		corsError(w, "Invalid invoice id", http.StatusBadRequest)
		return
	}

	invoice, err := s.service.Invoice(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleDiscardInvoice removes an invoice from the queue
func (s *Server) handleDiscardInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		corsError(w, "Invalid invoice id", http.StatusBadRequest)
		return
	}

	if err := s.service.Discard(id); err != nil {
		writeServiceError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddPage uploads one captured page image
func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		corsError(w, "Invalid invoice id", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxPageSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		if err.Error() == "http: request body too large" {
			message = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file was selected. Please choose a file to upload."})
		return
	}
	defer f.Close()

	if header.Size > maxPageSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File is too large. Maximum size is 50MB. Please compress or resize your image."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic", ".heif":
			contentType = "image/heic"
		default:
			contentType = "application/octet-stream"
		}
	}

	page, err := s.service.AddPage(id, header.Filename, data, contentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// handleRemovePage removes a page from an invoice. Missing ids are a silent
// no-op, so the handler always answers 204.
func (s *Server) handleRemovePage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		corsError(w, "Invalid invoice id", http.StatusBadRequest)
		return
	}
	pageID, err := pathID(r, "pageID")
	if err != nil {
		corsError(w, "Invalid page id", http.StatusBadRequest)
		return
	}

	s.service.RemovePage(id, pageID)
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit runs a validation cycle for an invoice. The client's answer to
// a potential accept-with-issues prompt rides along as a query parameter.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		corsError(w, "Invalid invoice id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if v := r.URL.Query().Get("accept_with_issues"); v != "" {
		accept, err := strconv.ParseBool(v)
		if err != nil {
			corsError(w, "Invalid accept_with_issues value", http.StatusBadRequest)
			return
		}
		ctx = WithAcceptDecision(ctx, accept)
	}

	outcome, err := s.service.Submit(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleDismissReminder stops the active save reminder
func (s *Server) handleDismissReminder(w http.ResponseWriter, r *http.Request) {
	s.service.DismissReminder()
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListHistory returns all accepted records, most recent first
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.History()
	if err != nil {
		slog.Error("Error listing history", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetHistoryRecord returns one accepted record
func (s *Server) handleGetHistoryRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		corsError(w, "Invalid record id", http.StatusBadRequest)
		return
	}

	record, err := s.service.HistoryRecord(id)
	if err != nil {
		corsError(w, "Record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleActivateCache is the activate-immediately control signal for the
// asset cache: a new generation takes control without waiting for a session
// boundary
func (s *Server) handleActivateCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		corsError(w, "Asset cache is not configured", http.StatusNotFound)
		return
	}

	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Tag) == "" {
		corsError(w, "A generation tag is required", http.StatusBadRequest)
		return
	}

	if err := s.cache.Activate(strings.TrimSpace(body.Tag)); err != nil {
		slog.Error("Error activating cache generation", "tag", body.Tag, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tag": s.cache.Tag()})
}
