package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/modernmilkman/internal/coordinator"
	"github.com/mmeshcher/modernmilkman/internal/middleware"
	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/service"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

type stubService struct {
	entities []model.EntityState

	events    []model.CalendarEvent
	eventsErr error
	gotStart  time.Time
	gotEnd    time.Time

	refreshErr error
	refreshes  int

	lastErr error
}

func (s *stubService) Title() string { return "Jane Doe" }

func (s *stubService) Entities() []model.EntityState { return s.entities }

func (s *stubService) Entity(entityID string) (model.EntityState, bool) {
	for _, e := range s.entities {
		if e.EntityID == entityID {
			return e, true
		}
	}
	return model.EntityState{}, false
}

func (s *stubService) CalendarEvents(start, end time.Time) ([]model.CalendarEvent, error) {
	s.gotStart, s.gotEnd = start, end
	return s.events, s.eventsErr
}

func (s *stubService) Refresh(ctx context.Context) (model.RefreshResult, error) {
	s.refreshes++
	return model.RefreshResult{}, s.refreshErr
}

func (s *stubService) LastError() error { return s.lastErr }

func newTestRouter(s *stubService, token string) http.Handler {
	h := NewHandler(s, nil, middleware.NewAuthMiddleware(token))
	h.now = func() time.Time { return time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC) }
	return h.SetupRouter()
}

func doRequest(t *testing.T, router http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func delivery() model.CalendarEvent {
	return model.CalendarEvent{
		Start:   model.Date{Year: 2025, Month: time.March, Day: 1},
		End:     model.Date{Year: 2025, Month: time.March, Day: 2},
		Summary: "Milkround",
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		lastErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "ok", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "degraded", lastErr: errors.New("vendor down"), wantStatus: http.StatusOK, wantBody: `"last_error":"vendor down"`},
		{name: "starting", lastErr: service.ErrNotStarted, wantStatus: http.StatusServiceUnavailable, wantBody: `"status":"starting"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, newTestRouter(&stubService{lastErr: tt.lastErr}, ""), http.MethodGet, "/health", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestGetEntities(t *testing.T) {
	s := &stubService{entities: []model.EntityState{
		{EntityID: "sensor.themodernmilkman_wastage", State: "42", Available: true},
		{EntityID: "sensor.themodernmilkman_next_delivery", State: "2025-03-01", DeviceClass: "date"},
	}}
	router := newTestRouter(s, "")

	w := doRequest(t, router, http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got []model.EntityState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got, 2)

	w = doRequest(t, router, http.MethodGet, "/api/entities/sensor.themodernmilkman_wastage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var one model.EntityState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&one))
	assert.Equal(t, "42", one.State)

	w = doRequest(t, router, http.MethodGet, "/api/entities/sensor.unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEntities_Empty(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubService{}, ""), http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestGetCalendarEvents(t *testing.T) {
	s := &stubService{events: []model.CalendarEvent{delivery()}}
	router := newTestRouter(s, "")

	w := doRequest(t, router, http.MethodGet, "/api/calendar/events?start=2025-02-20&end=2025-03-31T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"start":"2025-03-01","end":"2025-03-02","summary":"Milkround"}]`, w.Body.String())
	assert.Equal(t, time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), s.gotEnd)

	w = doRequest(t, router, http.MethodGet, "/api/calendar/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC), s.gotStart)
	assert.Equal(t, s.gotStart.Add(defaultEventsWindow), s.gotEnd)
}

func TestGetCalendarEvents_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		eventsErr  error
		wantStatus int
	}{
		{name: "bad start", target: "/api/calendar/events?start=tomorrow", wantStatus: http.StatusBadRequest},
		{name: "end before start", target: "/api/calendar/events?start=2025-03-01&end=2025-02-01", wantStatus: http.StatusBadRequest},
		{name: "no local calendar", target: "/api/calendar/events", eventsErr: service.ErrNoLocalCalendar, wantStatus: http.StatusNotFound},
		{name: "not started", target: "/api/calendar/events", eventsErr: service.ErrNotStarted, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, newTestRouter(&stubService{eventsErr: tt.eventsErr}, ""), http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestGetCalendarICS(t *testing.T) {
	s := &stubService{events: []model.CalendarEvent{delivery()}}

	w := doRequest(t, newTestRouter(s, ""), http.MethodGet, "/api/calendar.ics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/calendar"))

	cal, err := ics.ParseCalendar(strings.NewReader(w.Body.String()))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Milkround", ev.GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "20250301", ev.GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20250302", ev.GetProperty(ics.ComponentPropertyDtEnd).Value)
	assert.NotEmpty(t, ev.GetProperty(ics.ComponentPropertyUniqueId).Value)
}

func TestGetCalendarICS_StableUID(t *testing.T) {
	s := &stubService{events: []model.CalendarEvent{delivery()}}
	now := time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)

	a, err := buildICS("Jane Doe", s.events, now)
	require.NoError(t, err)
	b, err := buildICS("Jane Doe", s.events, now.Add(time.Hour))
	require.NoError(t, err)

	uid := func(body string) string {
		cal, err := ics.ParseCalendar(strings.NewReader(body))
		require.NoError(t, err)
		return cal.Events()[0].GetProperty(ics.ComponentPropertyUniqueId).Value
	}
	assert.Equal(t, uid(a), uid(b))
}

func TestRefresh(t *testing.T) {
	authErr := &coordinator.UpdateError{Kind: coordinator.KindInvalidAuth, Err: tmm.ErrInvalidAuth}
	connErr := &coordinator.UpdateError{Kind: coordinator.KindConnection, Err: tmm.ErrConnection}

	tests := []struct {
		name        string
		token       string
		header      string
		refreshErr  error
		wantStatus  int
		wantRefresh int
	}{
		{name: "open", wantStatus: http.StatusOK, wantRefresh: 1},
		{name: "valid token", token: "k", header: "Bearer k", wantStatus: http.StatusOK, wantRefresh: 1},
		{name: "missing token", token: "k", wantStatus: http.StatusUnauthorized},
		{name: "vendor auth failure", refreshErr: authErr, wantStatus: http.StatusUnauthorized, wantRefresh: 1},
		{name: "update failure", refreshErr: connErr, wantStatus: http.StatusBadGateway, wantRefresh: 1},
		{name: "not started", refreshErr: service.ErrNotStarted, wantStatus: http.StatusServiceUnavailable, wantRefresh: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubService{refreshErr: tt.refreshErr}
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}

			w := doRequest(t, newTestRouter(s, tt.token), http.MethodPost, "/api/refresh", header)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRefresh, s.refreshes)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubService{}, ""), http.MethodGet, "/api/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
