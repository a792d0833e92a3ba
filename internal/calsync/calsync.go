// Package calsync переносит следующую доставку во внешние календари без создания дубликатов.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/eventuid"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

// Summary задаёт заголовок события доставки.
const Summary = "Milkround"

// ErrResponseUnsupported возвращается календарём, который не умеет отвечать на создание события.
var ErrResponseUnsupported = errors.New("calendar does not support service responses")

// CalendarService описывает операции с календарями хоста.
type CalendarService interface {
	CreateEvent(ctx context.Context, rec model.CalendarEventRecord) error
	CreateEventNoResponse(ctx context.Context, rec model.CalendarEventRecord) error
	GetEvents(ctx context.Context, entityID string, start, end time.Time) ([]model.CalendarEvent, error)
}

// Store описывает доступ к сохранённой записи конфигурации.
type Store interface {
	Entry(ctx context.Context) (model.ConfigEntry, error)
	UpdateUIDs(ctx context.Context, uids []string) error
}

// Syncer создаёт событие следующей доставки в каждом целевом календаре.
// Вызовы Sync выполняются строго по очереди.
type Syncer struct {
	calendars CalendarService
	store     Store
	logger    *zap.Logger

	mu sync.Mutex
}

// NewSyncer создаёт синхронизатор календарей.
func NewSyncer(calendars CalendarService, store Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		calendars: calendars,
		store:     store,
		logger:    logger,
	}
}

// DeliveryEvent возвращает событие доставки, если она сегодня или позже.
func DeliveryEvent(next model.NextDelivery, today model.Date) (model.CalendarEvent, bool) {
	if next.IsUnknown() {
		return model.CalendarEvent{}, false
	}
	date, err := next.Date()
	if err != nil || date.Before(today) {
		return model.CalendarEvent{}, false
	}
	return model.CalendarEvent{
		Start:   date,
		End:     date.AddDays(1),
		Summary: Summary,
	}, true
}

// Sync переносит событие доставки во все целевые календари записи конфигурации
// и возвращает сохранённый список UID.
func (s *Syncer) Sync(ctx context.Context, next model.NextDelivery, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.store.Entry(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}

	uids := slices.Clone(entry.UIDs)

	event, ok := DeliveryEvent(next, model.DateOf(now))
	if !ok {
		return uids, nil
	}

	var errs []error
	changed := false
	for _, target := range entry.Calendars {
		if target == model.NoCalendar {
			continue
		}

		uid, err := s.syncOne(ctx, model.NewCalendarEventRecord(target, event), uids)
		if err != nil {
			s.logger.Error("calendar sync failed", zap.String("calendar", target), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		if uid != "" && !slices.Contains(uids, uid) {
			uids = append(uids, uid)
			changed = true
		}
	}

	if changed {
		if err := s.store.UpdateUIDs(ctx, uids); err != nil {
			return nil, fmt.Errorf("save uids: %w", err)
		}
	}

	return uids, errors.Join(errs...)
}

func (s *Syncer) syncOne(ctx context.Context, rec model.CalendarEventRecord, known []string) (string, error) {
	uid, err := s.findUID(ctx, rec)
	if err != nil {
		return "", err
	}
	if uid != "" {
		return uid, nil
	}

	if err := s.create(ctx, rec); err != nil {
		return "", err
	}

	uid, err = s.findUID(ctx, rec)
	if err != nil {
		return "", err
	}
	if uid == "" {
		s.logger.Warn("created event not found", zap.String("calendar", rec.EntityID), zap.String("date", rec.StartDate.String()))
		return "", nil
	}

	s.logger.Info("calendar event created",
		zap.String("calendar", rec.EntityID),
		zap.String("date", rec.StartDate.String()),
		zap.String("uid", uid),
		zap.Bool("known", slices.Contains(known, uid)),
	)
	return uid, nil
}

func (s *Syncer) create(ctx context.Context, rec model.CalendarEventRecord) error {
	err := s.calendars.CreateEvent(ctx, rec)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Debug("create event with response failed, retrying without response",
		zap.String("calendar", rec.EntityID),
		zap.Bool("unsupported", errors.Is(err, ErrResponseUnsupported)),
		zap.Error(err),
	)

	if err := s.calendars.CreateEventNoResponse(ctx, rec); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// findUID ищет в календаре событие с тем же заголовком, описанием и местом.
func (s *Syncer) findUID(ctx context.Context, rec model.CalendarEventRecord) (string, error) {
	start := rec.StartDate.In(time.UTC)
	end := rec.EndDate.In(time.UTC)

	events, err := s.calendars.GetEvents(ctx, rec.EntityID, start, end)
	if err != nil {
		return "", fmt.Errorf("get events: %w", err)
	}

	for _, ev := range events {
		if ev.Summary == rec.Summary && ev.Description == rec.Description && ev.Location == rec.Location {
			id, err := eventuid.Generate(rec.Fields())
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}

	return "", nil
}
