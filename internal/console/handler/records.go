package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/console/service"
)

type RecordsHandler struct {
	service *service.RecordsService
	logger  *zap.Logger
}

func NewRecordsHandler(s *service.RecordsService, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{service: s, logger: logger}
}

// ListValidations — GET /v1/validations?client_id=...&limit=...
func (h *RecordsHandler) ListValidations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.Recent(r.Context(), r.URL.Query().Get("client_id"), queryLimit(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, recs)
}

func (h *RecordsHandler) GetValidation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, rec)
}

// Journal — GET /v1/journal?kind=lease&limit=...
func (h *RecordsHandler) Journal(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.Journal(r.Context(), r.URL.Query().Get("kind"), queryLimit(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, events)
}

func (h *RecordsHandler) ProbeHistory(w http.ResponseWriter, r *http.Request) {
	probes, err := h.service.ProbeHistory(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, probes)
}
