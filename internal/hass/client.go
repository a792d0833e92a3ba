// Package hass предоставляет клиент REST API Home Assistant: сервисы календаря,
// запись состояний сущностей и список календарей.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/calsync"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

// featureCreateEvent соответствует биту CalendarEntityFeature.CREATE_EVENT.
const featureCreateEvent = 1

const eventTimeLayout = "2006-01-02T15:04:05-0700"

// Client инкапсулирует HTTP-взаимодействие с Home Assistant.
type Client struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент для экземпляра Home Assistant.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.Named("hass").Sugar()}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: rc,
	}
}

type createEventRequest struct {
	EntityID    string `json:"entity_id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func newCreateEventRequest(rec model.CalendarEventRecord) createEventRequest {
	return createEventRequest{
		EntityID:    rec.EntityID,
		Summary:     rec.Summary,
		Description: rec.Description,
		Location:    rec.Location,
		StartDate:   rec.StartDate.String(),
		EndDate:     rec.EndDate.String(),
	}
}

type noRetryKey struct{}

// withoutRetry помечает запрос, который нельзя повторять: create_event не идемпотентен,
// и повтор после потерянного ответа создал бы второе событие.
func withoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// CreateEvent вызывает calendar.create_event с запросом ответа сервиса.
// Если Home Assistant отвечает 400, возвращается calsync.ErrResponseUnsupported.
// Запрос не повторяется.
func (c *Client) CreateEvent(ctx context.Context, rec model.CalendarEventRecord) error {
	resp, err := c.post(withoutRetry(ctx), "/api/services/calendar/create_event?return_response", newCreateEventRequest(rec))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("create event: %w: %s", calsync.ErrResponseUnsupported, readMessage(resp.Body))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create event: unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// CreateEventNoResponse вызывает calendar.create_event без ответа сервиса.
// Запрос не повторяется.
func (c *Client) CreateEventNoResponse(ctx context.Context, rec model.CalendarEventRecord) error {
	resp, err := c.post(withoutRetry(ctx), "/api/services/calendar/create_event", newCreateEventRequest(rec))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create event: unexpected status: %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
	return nil
}

type getEventsRequest struct {
	EntityID      string `json:"entity_id"`
	StartDateTime string `json:"start_date_time"`
	EndDateTime   string `json:"end_date_time"`
}

type hassEvent struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type getEventsResponse struct {
	ServiceResponse map[string]struct {
		Events []hassEvent `json:"events"`
	} `json:"service_response"`
}

// GetEvents вызывает calendar.get_events и возвращает события календаря в интервале.
func (c *Client) GetEvents(ctx context.Context, entityID string, start, end time.Time) ([]model.CalendarEvent, error) {
	body := getEventsRequest{
		EntityID:      entityID,
		StartDateTime: start.UTC().Format(eventTimeLayout),
		EndDateTime:   end.UTC().Format(eventTimeLayout),
	}

	resp, err := c.post(ctx, "/api/services/calendar/get_events?return_response", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get events: unexpected status: %d: %s", resp.StatusCode, readMessage(resp.Body))
	}

	var decoded getEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	calendar, ok := decoded.ServiceResponse[entityID]
	if !ok {
		return nil, nil
	}

	events := make([]model.CalendarEvent, 0, len(calendar.Events))
	for _, ev := range calendar.Events {
		startDate, err := model.ParseDate(ev.Start)
		if err != nil {
			return nil, fmt.Errorf("event start: %w", err)
		}
		endDate, err := model.ParseDate(ev.End)
		if err != nil {
			return nil, fmt.Errorf("event end: %w", err)
		}
		events = append(events, model.CalendarEvent{
			Start:       startDate,
			End:         endDate,
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
		})
	}

	return events, nil
}

type stateRequest struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// PublishState записывает состояние сущности через POST /api/states/<entity_id>.
func (c *Client) PublishState(ctx context.Context, st model.EntityState) error {
	attrs := make(map[string]any, len(st.Attributes)+4)
	for k, v := range st.Attributes {
		attrs[k] = v
	}
	attrs["friendly_name"] = st.Name
	if st.Icon != "" {
		attrs["icon"] = st.Icon
	}
	if st.DeviceClass != "" {
		attrs["device_class"] = st.DeviceClass
	}
	attrs["unique_id"] = st.UniqueID
	if len(st.Device.Identifiers) > 0 {
		attrs["device"] = st.Device
	}

	state := st.State
	if !st.Available {
		state = "unavailable"
	}

	resp, err := c.post(ctx, "/api/states/"+url.PathEscape(st.EntityID), stateRequest{State: state, Attributes: attrs})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("publish state %s: unexpected status: %d", st.EntityID, resp.StatusCode)
	}
	return nil
}

type hassState struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName      string `json:"friendly_name"`
		SupportedFeatures int    `json:"supported_features"`
	} `json:"attributes"`
}

// ListCalendars возвращает календари, поддерживающие создание событий,
// и вариант «создать новый календарь».
func (c *Client) ListCalendars(ctx context.Context) ([]model.CalendarInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list states: unexpected status: %d", resp.StatusCode)
	}

	var states []hassState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	calendars := make([]model.CalendarInfo, 0)
	for _, st := range states {
		if !strings.HasPrefix(st.EntityID, "calendar.") {
			continue
		}
		if st.Attributes.SupportedFeatures&featureCreateEvent == 0 {
			continue
		}
		name := st.Attributes.FriendlyName
		if name == "" {
			name = st.EntityID
		}
		calendars = append(calendars, model.CalendarInfo{EntityID: st.EntityID, Name: name})
	}
	calendars = append(calendars, model.CalendarInfo{EntityID: model.NoCalendar, Name: "Create a new calendar"})

	return calendars, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("hass client not configured")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func readMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	return strings.TrimSpace(string(data))
}

// leveledLogger передаёт журнал retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Infow(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }
