package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/hub"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

const maxBodyBytes = 1 << 20

// API: HTTP-транспорт шлюза поверх Core.
type API struct {
	core      *Core
	validator auth.TokenValidator
	ws        http.Handler
	metrics   http.Handler
	logger    *zap.Logger
	router    *chi.Mux
}

// NewAPI собирает роутер. ws и metrics могут быть nil.
func NewAPI(core *Core, validator auth.TokenValidator, ws, metrics http.Handler, logger *zap.Logger) *API {
	a := &API{
		core:      core,
		validator: validator,
		ws:        ws,
		metrics:   metrics,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", a.health)
		if a.metrics != nil {
			r.Method(http.MethodGet, "/metrics", a.metrics)
		}
		// WebSocket аутентифицируется кадром auth внутри соединения
		if a.ws != nil {
			r.Method(http.MethodGet, "/v1/ws", a.ws)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(a.validator, a.logger))

		r.Route("/v1/leases", func(r chi.Router) {
			r.Use(auth.RequirePermission(PermLease))
			r.Post("/", a.assignResource)
			r.Get("/{clientID}", a.getLease)
			r.Delete("/{clientID}", a.releaseResource)
		})

		r.Route("/v1/resources", func(r chi.Router) {
			r.With(auth.RequirePermission(PermResourcesRead)).Get("/", a.listResources)
			r.With(auth.RequirePermission(PermResourcesReport)).Post("/{id}/report", a.reportUsage)
		})

		r.Route("/v1/signatures", func(r chi.Router) {
			r.Use(auth.RequirePermission(PermSignatures))
			r.Post("/", a.computeSignature)
			r.Post("/compare", a.compareSignatures)
		})

		r.Route("/v1/validations", func(r chi.Router) {
			r.With(auth.RequirePermission(PermValidate)).Post("/", a.validate)
			r.With(auth.RequirePermission(PermValidate)).Post("/batch", a.batchValidate)
			r.With(auth.RequirePermission(PermValidationsRead)).Get("/{id}", a.getValidation)
		})

		r.With(auth.RequirePermission(PermValidate)).Post("/v1/process", a.process)
		r.With(auth.RequirePermission(PermBroadcast)).Post("/v1/broadcast/{channel}", a.broadcast)
	})
}

// ServeHTTP позволяет использовать API как стандартный http.Handler
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// --- helpers ---

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCapacity:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, domain.Ok(data))
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := domain.Fail[any](err)
	if res.Kind == domain.KindInternal {
		// наружу: только "internal error", подробности, в лог
		a.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.String("trace_id", extractTraceID(r.Context())), zap.Error(err))
	}
	writeJSON(w, statusFor(res.Kind), res)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		a.writeError(w, r, errors.Join(domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// --- handlers ---

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeOK(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"pool":        a.core.Pool().Stats(),
		"connections": a.core.Hub().Count(),
	})
}

type leaseRequest struct {
	ClientID string             `json:"client_id"`
	Filter   domain.LeaseFilter `json:"filter"`
}

func (a *API) assignResource(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.core.AssignResource(r.Context(), req.ClientID, req.Filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeOK(w, http.StatusOK, res)
}

func (a *API) getLease(w http.ResponseWriter, r *http.Request) {
	lease, ok := a.core.Pool().LeaseOf(chi.URLParam(r, "clientID"))
	if !ok {
		a.writeError(w, r, domain.ErrNotFound)
		return
	}
	a.writeOK(w, http.StatusOK, lease)
}

func (a *API) releaseResource(w http.ResponseWriter, r *http.Request) {
	released := a.core.ReleaseResource(r.Context(), chi.URLParam(r, "clientID"))
	a.writeOK(w, http.StatusOK, map[string]bool{"released": released})
}

func (a *API) listResources(w http.ResponseWriter, _ *http.Request) {
	a.writeOK(w, http.StatusOK, map[string]any{
		"resources": a.core.Resources(),
		"stats":     a.core.Pool().Stats(),
	})
}

type usageReport struct {
	Success   bool  `json:"success"`
	LatencyMs int64 `json:"latency_ms"`
}

func (a *API) reportUsage(w http.ResponseWriter, r *http.Request) {
	var req usageReport
	if !a.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.core.ReportUsage(r.Context(), id, req.Success, time.Duration(req.LatencyMs)*time.Millisecond); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, _ := a.core.Pool().Get(id)
	a.writeOK(w, http.StatusOK, res)
}

type signatureRequest struct {
	ClientKey  string            `json:"client_key"`
	Attributes domain.Attributes `json:"attributes"`
}

func (a *API) computeSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.writeOK(w, http.StatusOK, a.core.ComputeSignature(r.Context(), req.ClientKey, req.Attributes))
}

type compareRequest struct {
	A domain.Attributes `json:"a"`
	B domain.Attributes `json:"b"`
}

func (a *API) compareSignatures(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.writeOK(w, http.StatusOK, map[string]float64{"similarity": a.core.CompareSignatures(req.A, req.B)})
}

func (a *API) validate(w http.ResponseWriter, r *http.Request) {
	var in domain.ValidationInput
	if !a.decode(w, r, &in) {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		id, err := a.core.SubmitValidation(r.Context(), in)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeOK(w, http.StatusAccepted, map[string]string{"id": id})
		return
	}
	rec, err := a.core.Validate(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeOK(w, http.StatusOK, rec)
}

func (a *API) batchValidate(w http.ResponseWriter, r *http.Request) {
	var inputs []domain.ValidationInput
	if !a.decode(w, r, &inputs) {
		return
	}
	a.writeOK(w, http.StatusOK, a.core.BatchValidate(r.Context(), inputs))
}

func (a *API) getValidation(w http.ResponseWriter, r *http.Request) {
	rec, err := a.core.GetValidation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeOK(w, http.StatusOK, rec)
}

func (a *API) process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.core.Process(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	a.writeOK(w, status, res)
}

type broadcastRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (a *API) broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		a.writeError(w, r, errors.Join(domain.ErrInvalidInput, errors.New("type is required")))
		return
	}
	channel := chi.URLParam(r, "channel")
	msg := hub.Message{Type: req.Type, Channel: channel, Data: req.Data, Timestamp: time.Now().UTC()}
	a.writeOK(w, http.StatusOK, map[string]int{"delivered": a.core.Broadcast(r.Context(), channel, msg)})
}
