// Package model содержит доменные сущности интеграции The Modern Milkman.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Domain содержит идентификатор интеграции, общий для сущностей и записи конфигурации.
const Domain = "themodernmilkman"

// Unknown используется вместо даты, когда данных о следующей доставке нет.
const Unknown = "Unknown"

// NoCalendar в списке календарей означает «создать локальный календарь» вместо записи во внешний.
const NoCalendar = "None"

// Ключи полей ответов API поставщика.
const (
	FieldBottlesSaved = "bottlesSaved"
	FieldDeliveryDate = "deliveryDate"
	FieldCustomer     = "customer"
	FieldUser         = "user"
	FieldForename     = "forename"
	FieldSurname      = "surname"
)

// Credentials содержит учётные данные пользователя сервиса доставки.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// WastageRecord описывает статистику сэкономленных бутылок.
// Кроме обязательного поля bottlesSaved может содержать произвольные вложенные объекты.
type WastageRecord map[string]any

// BottlesSaved возвращает количество сэкономленных бутылок.
func (w WastageRecord) BottlesSaved() (float64, bool) {
	return toFloat(w[FieldBottlesSaved])
}

// NextDelivery описывает следующую доставку.
// Нулевое значение (Fields == nil) соответствует заглушке Unknown.
type NextDelivery struct {
	Fields map[string]any
}

// UnknownDelivery возвращает значение следующей доставки, для которой данных нет.
func UnknownDelivery() NextDelivery {
	return NextDelivery{}
}

// IsUnknown сообщает, что данных о следующей доставке нет.
func (n NextDelivery) IsUnknown() bool {
	return n.Fields == nil
}

// Date возвращает дату следующей доставки.
func (n NextDelivery) Date() (Date, error) {
	if n.IsUnknown() {
		return Date{}, fmt.Errorf("next delivery is %s", Unknown)
	}
	raw, ok := n.Fields[FieldDeliveryDate].(string)
	if !ok {
		return Date{}, fmt.Errorf("%s is missing or not a string", FieldDeliveryDate)
	}
	return ParseDate(raw)
}

// Value возвращает исходное представление: карту полей или строку Unknown.
func (n NextDelivery) Value() any {
	if n.IsUnknown() {
		return Unknown
	}
	return n.Fields
}

// RefreshResult содержит снимок данных одного цикла обновления.
type RefreshResult struct {
	Wastage      WastageRecord `json:"wastage"`
	NextDelivery NextDelivery  `json:"-"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// UserState содержит профиль пользователя, возвращаемый при настройке интеграции.
type UserState map[string]any

// DisplayName возвращает «имя фамилия» из customer.user.
func (u UserState) DisplayName() (string, error) {
	customer, ok := u[FieldCustomer].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%s is missing", FieldCustomer)
	}
	user, ok := customer[FieldUser].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%s.%s is missing", FieldCustomer, FieldUser)
	}
	forename, _ := user[FieldForename].(string)
	surname, _ := user[FieldSurname].(string)
	if forename == "" && surname == "" {
		return "", fmt.Errorf("user has no forename or surname")
	}
	return fmt.Sprintf("%s %s", forename, surname), nil
}

// ConfigEntry представляет сохранённую запись конфигурации интеграции.
type ConfigEntry struct {
	EntryID   string   `yaml:"entry_id" json:"entry_id"`
	Title     string   `yaml:"title" json:"title"`
	Username  string   `yaml:"username" json:"username"`
	Password  string   `yaml:"password" json:"password"`
	Calendars []string `yaml:"calendars" json:"calendars"`
	UIDs      []string `yaml:"uids" json:"uids"`
}

// Credentials возвращает учётные данные из записи конфигурации.
func (e ConfigEntry) Credentials() Credentials {
	return Credentials{Username: e.Username, Password: e.Password}
}

// HasLocalCalendar сообщает, выбран ли вариант «создать локальный календарь».
func (e ConfigEntry) HasLocalCalendar() bool {
	for _, c := range e.Calendars {
		if c == NoCalendar {
			return true
		}
	}
	return false
}

// CalendarEvent представляет событие календаря на весь день.
type CalendarEvent struct {
	Start       Date   `json:"start"`
	End         Date   `json:"end"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// CalendarEventRecord содержит данные для создания события во внешнем календаре.
type CalendarEventRecord struct {
	EntityID    string
	StartDate   Date
	EndDate     Date
	Summary     string
	Description string
	Location    string
}

// NewCalendarEventRecord строит запись для целевого календаря из события.
func NewCalendarEventRecord(entityID string, ev CalendarEvent) CalendarEventRecord {
	return CalendarEventRecord{
		EntityID:    entityID,
		StartDate:   ev.Start,
		EndDate:     ev.End,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
}

// Fields возвращает поля записи в виде данных сервиса calendar.create_event.
func (r CalendarEventRecord) Fields() map[string]any {
	return map[string]any{
		"entity_id":   r.EntityID,
		"start_date":  r.StartDate,
		"end_date":    r.EndDate,
		"summary":     r.Summary,
		"description": r.Description,
		"location":    r.Location,
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
