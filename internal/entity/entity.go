// Package entity отображает данные координатора в сущности хоста: два сенсора и календарь доставок.
package entity

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mmeshcher/modernmilkman/internal/model"
)

const (
	manufacturer     = "The Modern Milkman"
	deviceModel      = "Milkround"
	configurationURL = "https://github.com/jampez77/TheModernMilkman/"
)

// DeviceClassDate обозначает сенсор, значение которого является датой.
const DeviceClassDate = "date"

// Status сообщает адаптерам, успешно ли прошло последнее обновление.
type Status interface {
	LastUpdateSuccess() bool
}

// Entity описывает общий контракт сущностей интеграции.
type Entity interface {
	EntityID() string
	Update(result model.RefreshResult)
	State(status Status) model.EntityState
}

func deviceInfo(name string) model.DeviceInfo {
	return model.DeviceInfo{
		Identifiers:      [][2]string{{model.Domain, model.Domain}},
		Manufacturer:     manufacturer,
		Model:            deviceModel,
		Name:             name,
		ConfigurationURL: configurationURL,
	}
}

// Flatten разворачивает один уровень вложенных объектов в атрибуты вида parent_child.
func Flatten(fields map[string]any) map[string]any {
	attrs := make(map[string]any, len(fields))
	for key, value := range fields {
		nested, ok := value.(map[string]any)
		if !ok {
			attrs[key] = value
			continue
		}
		for k, v := range nested {
			attrs[key+"_"+k] = v
		}
	}
	return attrs
}

// WastageSensor показывает количество сэкономленных бутылок.
type WastageSensor struct {
	name string

	mu      sync.RWMutex
	data    model.WastageRecord
	hasData bool
}

// NewWastageSensor создаёт сенсор статистики для записи конфигурации с заголовком title.
func NewWastageSensor(title string) *WastageSensor {
	return &WastageSensor{name: title}
}

// EntityID возвращает идентификатор сущности.
func (s *WastageSensor) EntityID() string {
	return "sensor." + model.Domain + "_wastage"
}

// Update принимает новый результат обновления.
func (s *WastageSensor) Update(result model.RefreshResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = result.Wastage
	s.hasData = result.Wastage != nil
}

// State возвращает текущее состояние сенсора.
func (s *WastageSensor) State(status Status) model.EntityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := model.EntityState{
		EntityID:   s.EntityID(),
		UniqueID:   strings.ToLower(fmt.Sprintf("%s-%s-wastage", model.Domain, s.name)),
		Name:       "Wastage",
		Icon:       "mdi:recycle",
		Attributes: map[string]any{},
		Device:     deviceInfo(s.name),
	}
	st.Available = status.LastUpdateSuccess() && s.hasData
	if !s.hasData {
		return st
	}

	if saved, ok := s.data.BottlesSaved(); ok {
		st.State = strconv.FormatFloat(saved, 'f', -1, 64)
	}
	st.Attributes = Flatten(s.data)
	return st
}

// BottlesSaved возвращает числовое значение сенсора.
func (s *WastageSensor) BottlesSaved() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData {
		return 0, false
	}
	return s.data.BottlesSaved()
}

// NextDeliverySensor показывает дату следующей доставки или Unknown.
type NextDeliverySensor struct {
	name string

	mu      sync.RWMutex
	data    model.NextDelivery
	hasData bool
}

// NewNextDeliverySensor создаёт сенсор следующей доставки.
func NewNextDeliverySensor(title string) *NextDeliverySensor {
	return &NextDeliverySensor{name: title}
}

// EntityID возвращает идентификатор сущности.
func (s *NextDeliverySensor) EntityID() string {
	return "sensor." + model.Domain + "_next_delivery"
}

// Update принимает новый результат обновления.
func (s *NextDeliverySensor) Update(result model.RefreshResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = result.NextDelivery
	s.hasData = true
}

// Value возвращает значение сенсора: дату доставки или строку Unknown.
func (s *NextDeliverySensor) Value() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value()
}

func (s *NextDeliverySensor) value() any {
	if !s.hasData || s.data.IsUnknown() {
		return model.Unknown
	}
	date, err := s.data.Date()
	if err != nil {
		return model.Unknown
	}
	return date
}

// State возвращает текущее состояние сенсора.
func (s *NextDeliverySensor) State(status Status) model.EntityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := model.EntityState{
		EntityID:   s.EntityID(),
		UniqueID:   strings.ToLower(fmt.Sprintf("%s-%s-next_delivery", model.Domain, s.name)),
		Name:       "Next Delivery",
		Icon:       "mdi:truck-delivery",
		Attributes: map[string]any{},
		Device:     deviceInfo(s.name),
	}
	st.Available = status.LastUpdateSuccess() && s.hasData

	switch v := s.value().(type) {
	case model.Date:
		st.State = v.String()
		st.DeviceClass = DeviceClassDate
	default:
		st.State = model.Unknown
	}

	if s.hasData && !s.data.IsUnknown() {
		st.Attributes = Flatten(s.data.Fields)
	}
	return st
}
