package query

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
	"github.com/drblury/xrayflow/internal/runtime/logging"
)

// maxBodyBytes bounds create and update request bodies.
const maxBodyBytes = 4 << 20

// Handler exposes a Service over HTTP.
type Handler struct {
	svc *Service
	log logging.ServiceLogger
}

// NewHandler builds the HTTP layer for svc.
func NewHandler(svc *Service, log logging.ServiceLogger) *Handler {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &Handler{svc: svc, log: log}
}

// Register adds the /signals routes through register, which takes
// net/http method patterns.
func (h *Handler) Register(register func(pattern string, handler http.Handler)) {
	register("GET /signals", http.HandlerFunc(h.list))
	register("GET /signals/device/{deviceId}", http.HandlerFunc(h.listByDevice))
	register("GET /signals/filter/data", http.HandlerFunc(h.filter))
	register("GET /signals/{id}", http.HandlerFunc(h.findOne))
	register("POST /signals", http.HandlerFunc(h.create))
	register("PUT /signals/{id}", http.HandlerFunc(h.update))
	register("DELETE /signals/{id}", http.HandlerFunc(h.remove))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _, err := ParsePage(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.List(r.Context(), p)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) listByDevice(w http.ResponseWriter, r *http.Request) {
	p, _, err := ParsePage(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ListByDevice(r.Context(), r.PathValue("deviceId"), p)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	c, err := parseCriteria(values)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, paged, err := ParsePage(values)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !paged {
		items, err := h.svc.FilterAll(r.Context(), c)
		h.respond(w, r, http.StatusOK, items, err)
		return
	}
	res, err := h.svc.Filter(r.Context(), c, p)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) findOne(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.FindOne(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, rec, err)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.svc.Create(r.Context(), in)
	h.respond(w, r, http.StatusCreated, rec, err)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := decodeBody(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.svc.Update(r.Context(), r.PathValue("id"), in)
	h.respond(w, r, http.StatusOK, rec, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Remove(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, map[string]bool{"deleted": err == nil}, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.WithTraceContext(r.Context(), h.log).Error("Request failed", err, logging.LogFields{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"message":    err.Error(),
	})
}

func statusOf(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrInvalidPagination),
		stderrors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := jsoncodec.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}

func parseCriteria(values url.Values) (Criteria, error) {
	c := Criteria{DeviceID: values.Get("deviceId")}
	var err error
	if c.StartTime, err = int64Param(values, "startTime"); err != nil {
		return Criteria{}, err
	}
	if c.EndTime, err = int64Param(values, "endTime"); err != nil {
		return Criteria{}, err
	}
	return c, nil
}

func int64Param(values url.Values, name string) (*int64, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer, got %q", errors.ErrInvalidRequest, name, raw)
	}
	return &v, nil
}
