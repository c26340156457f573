package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/zootally/internal/tally"
	mw "github.com/JonMunkholm/zootally/internal/web/middleware"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleStage reads a multipart "file" upload and stages its changeset.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	// The service enforces the exact cap; this only bounds the form parse.
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, &tally.ValidationError{Code: tally.CodeFileTooLarge, Err: err})
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	staged, err := s.service.Stage(r.Context(), header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, staged)
}

// handleGetStaged returns a staged changeset for review.
func (s *Server) handleGetStaged(w http.ResponseWriter, r *http.Request) {
	staged, err := s.service.Staged(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, staged)
}

// handleConfirm applies a staged changeset.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleDiscard drops a staged changeset.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory lists recent confirmed ingests.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", tally.DefaultHistoryLimit)
	records, err := s.service.History(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if records == nil {
		records = []tally.IngestRecord{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ingests": records})
}

// handleExport streams the selected count records as xlsx.
//
//	GET /api/export?enclosure=A&enclosure=B&start=2024-01-01&end=2024-01-31
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseExportFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Buffer so an empty range can still be reported as JSON.
	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), f, &buf); err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tally.ExportFileName(f)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		mw.RequestLogger(r).Warn("export write failed", "error", err)
	}
}

// ColumnInfo describes one upload column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// handleColumns returns the upload column contract.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	cols := make([]ColumnInfo, len(tally.TrackColumns))
	for i, spec := range tally.TrackColumns {
		typ := "text"
		if spec.Type == tally.FieldCount {
			typ = "count"
		}
		cols[i] = ColumnInfo{Name: spec.Name, Type: typ, Required: spec.NonEmpty}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"columns":         cols,
		"accession_width": s.cfg.Ingest.AccessionWidth,
	})
}

// handleHealth reports database reachability and limiter load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"ingest": s.service.Limiter().Status(),
	}
	if s.opts.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Pinger.Ping(ctx); err != nil {
			mw.RequestLogger(r).Error("health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
		}
	}
	writeJSON(w, r, status, body)
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

// parseExportFilter reads enclosure (repeatable or comma-separated),
// start and end from the query string.
func parseExportFilter(r *http.Request) (tally.ExportFilter, error) {
	q := r.URL.Query()
	var f tally.ExportFilter
	for _, v := range q["enclosure"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.Enclosures = append(f.Enclosures, name)
			}
		}
	}

	var err error
	if f.Start, err = parseDate(q.Get("start")); err != nil {
		return f, fmt.Errorf("start: %w", err)
	}
	if f.End, err = parseDate(q.Get("end")); err != nil {
		return f, fmt.Errorf("end: %w", err)
	}
	return f, f.Validate()
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("date is required (YYYY-MM-DD)")
	}
	t, err := time.Parse(tally.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}
