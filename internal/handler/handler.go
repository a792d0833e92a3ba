// Package handler содержит HTTP-обработчики API интеграции.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/coordinator"
	"github.com/mmeshcher/modernmilkman/internal/middleware"
	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/service"
)

// defaultEventsWindow задаёт интервал выборки событий, если конец не указан.
const defaultEventsWindow = 30 * 24 * time.Hour

// Service определяет контракт интеграции, используемый HTTP-обработчиками.
type Service interface {
	Title() string
	Entities() []model.EntityState
	Entity(entityID string) (model.EntityState, bool)
	CalendarEvents(start, end time.Time) ([]model.CalendarEvent, error)
	Refresh(ctx context.Context) (model.RefreshResult, error)
	LastError() error
}

// Handler реализует HTTP-обработчики API интеграции.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = middleware.NewAuthMiddleware("")
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		now:            time.Now,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Health сообщает о готовности интеграции и результате последнего обновления.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	err := h.service.LastError()
	if errors.Is(err, service.ErrNotStarted) {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEntities возвращает состояния всех сущностей.
func (h *Handler) GetEntities(w http.ResponseWriter, r *http.Request) {
	states := h.service.Entities()
	if states == nil {
		states = []model.EntityState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// GetEntity возвращает состояние одной сущности.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	st, ok := h.service.Entity(chi.URLParam(r, "entityID"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetCalendarEvents возвращает события локального календаря в интервале start..end.
func (h *Handler) GetCalendarEvents(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseWindow(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	events, err := h.service.CalendarEvents(start, end)
	if err != nil {
		h.writeCalendarError(w, err)
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Refresh запускает обновление по запросу и возвращает новые состояния сущностей.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	_, err := h.service.Refresh(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotStarted):
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		case errors.Is(err, coordinator.ErrAuthFailed):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		default:
			h.logger.Warn("on-demand refresh failed",
				zap.String("kind", coordinator.KindOf(err).String()),
				zap.Error(err),
			)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, h.service.Entities())
}

func (h *Handler) parseWindow(r *http.Request) (time.Time, time.Time, bool) {
	start := h.now()
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		start = t
	}

	end := start.Add(defaultEventsWindow)
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		end = t
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// parseTime принимает RFC 3339 или дату YYYY-MM-DD (полночь по местному времени).
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

func (h *Handler) writeCalendarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoLocalCalendar):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrNotStarted):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error("calendar events error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
