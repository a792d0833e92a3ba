package handler

import (
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/eventuid"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

const (
	icsProductID  = "-//The Modern Milkman//modernmilkman//EN"
	icsCalendarID = "calendar." + model.Domain + "_deliveries"
	icsWindow     = 365 * 24 * time.Hour
)

// GetCalendarICS отдаёт локальный календарь доставок в формате iCalendar.
func (h *Handler) GetCalendarICS(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	events, err := h.service.CalendarEvents(now, now.Add(icsWindow))
	if err != nil {
		h.writeCalendarError(w, err)
		return
	}

	body, err := buildICS(h.service.Title(), events, now)
	if err != nil {
		h.logger.Error("build ics error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="deliveries.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// buildICS собирает календарь. UID события совпадает с идентификатором,
// который получило бы то же событие во внешнем календаре.
func buildICS(title string, events []model.CalendarEvent, now time.Time) (string, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)
	name := "Deliveries"
	if title != "" {
		name = title + " Deliveries"
	}
	cal.SetXWRCalName(name)

	for _, ev := range events {
		rec := model.NewCalendarEventRecord(icsCalendarID, ev)
		uid, err := eventuid.Generate(rec.Fields())
		if err != nil {
			return "", err
		}

		vev := cal.AddEvent(uid.String())
		vev.SetDtStampTime(now.UTC())
		vev.SetAllDayStartAt(ev.Start.In(time.UTC))
		vev.SetAllDayEndAt(ev.End.In(time.UTC))
		vev.SetSummary(ev.Summary)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
	}

	return cal.Serialize(), nil
}
