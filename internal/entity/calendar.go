package entity

import (
	"sync"
	"time"

	"github.com/mmeshcher/modernmilkman/internal/calsync"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

const hassTimeLayout = "2006-01-02 15:04:05"

// DeliveryCalendar представляет локальный календарь с единственным событием следующей доставки.
type DeliveryCalendar struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	data    model.NextDelivery
	hasData bool
}

// NewDeliveryCalendar создаёт календарь доставок.
func NewDeliveryCalendar(title string) *DeliveryCalendar {
	return &DeliveryCalendar{name: title, now: time.Now}
}

// EntityID возвращает идентификатор сущности.
func (c *DeliveryCalendar) EntityID() string {
	return "calendar." + model.Domain + "_deliveries"
}

// Update принимает новый результат обновления.
func (c *DeliveryCalendar) Update(result model.RefreshResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = result.NextDelivery
	c.hasData = true
}

// Event возвращает событие доставки, если она не раньше даты момента start.
func (c *DeliveryCalendar) Event(start time.Time) (model.CalendarEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.hasData {
		return model.CalendarEvent{}, false
	}
	return calsync.DeliveryEvent(c.data, model.DateOf(start))
}

// Events возвращает события в интервале [start, end].
func (c *DeliveryCalendar) Events(start, end time.Time) []model.CalendarEvent {
	ev, ok := c.Event(start)
	if !ok {
		return nil
	}
	if ev.Start.After(model.DateOf(end)) {
		return nil
	}
	return []model.CalendarEvent{ev}
}

// State возвращает состояние календаря: on в день доставки, иначе off.
func (c *DeliveryCalendar) State(status Status) model.EntityState {
	now := c.now()

	c.mu.RLock()
	available := status.LastUpdateSuccess() && c.hasData && !c.data.IsUnknown()
	c.mu.RUnlock()

	st := model.EntityState{
		EntityID:   c.EntityID(),
		UniqueID:   model.Domain + "-calendar",
		Name:       "Deliveries",
		State:      "off",
		Attributes: map[string]any{},
		Available:  available,
		Device:     deviceInfo(c.name),
	}

	ev, ok := c.Event(now)
	if !ok {
		return st
	}

	if ev.Start == model.DateOf(now) {
		st.State = "on"
	}
	st.Attributes = map[string]any{
		"message":     ev.Summary,
		"all_day":     true,
		"start_time":  ev.Start.In(now.Location()).Format(hassTimeLayout),
		"end_time":    ev.End.In(now.Location()).Format(hassTimeLayout),
		"description": ev.Description,
		"location":    ev.Location,
	}
	return st
}
