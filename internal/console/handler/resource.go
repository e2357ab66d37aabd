package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/console/service"
	"github.com/xela07ax/trustgate/internal/domain"
)

type ResourceHandler struct {
	service *service.ResourceService
	logger  *zap.Logger
}

func NewResourceHandler(s *service.ResourceService, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{service: s, logger: logger}
}

// resourceInput — тело создания/обновления. Учетные данные принимаются, но не отдаются.
type resourceInput struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Region      string `json:"region"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Active      *bool  `json:"active"`
	MaxSessions int    `json:"max_sessions"`
}

func (in resourceInput) toResource() domain.PooledResource {
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return domain.PooledResource{
		Host:        in.Host,
		Port:        in.Port,
		Protocol:    in.Protocol,
		Region:      in.Region,
		Username:    in.Username,
		Password:    in.Password,
		Active:      active,
		MaxSessions: in.MaxSessions,
	}
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, list)
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, res)
}

func (h *ResourceHandler) Save(w http.ResponseWriter, r *http.Request) {
	var in resourceInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res := in.toResource()
	if id := chi.URLParam(r, "id"); id != "" && id != res.ID() {
		writeError(w, r, h.logger, fmt.Errorf("%w: body does not match resource %s", domain.ErrInvalidInput, id))
		return
	}
	saved, err := h.service.Save(r.Context(), res)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, saved)
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourceHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Disable — kill-switch ресурса: шлюзы перестают его выдавать сразу после сигнала.
func (h *ResourceHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *ResourceHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	if err := h.service.SetActive(r.Context(), id, active); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, map[string]any{"id": id, "active": active})
}

func (h *ResourceHandler) RunHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RunHealthCheck(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, domain.Ok(map[string]bool{"requested": true}))
}
