// Package setup реализует сценарий настройки интеграции: проверку учётных данных,
// выбор календарей и создание записи конфигурации.
package setup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/coordinator"
	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/repository"
	"github.com/mmeshcher/modernmilkman/internal/validation"
)

// Причины прерывания и коды ошибок формы.
const (
	AbortAlreadyConfigured = "already_configured"

	ErrorCannotConnect   = "cannot_connect"
	ErrorInvalidAuth     = "invalid_auth"
	ErrorUnknown         = "unknown"
	ErrorInvalidCalendar = "invalid_calendar"
	ErrorRequired        = "required"
)

// Ключи полей формы.
const (
	FieldBase      = "base"
	FieldUsername  = "username"
	FieldPassword  = "password"
	FieldCalendars = "calendars"
)

// Store описывает хранилище записи конфигурации.
type Store interface {
	Entry(ctx context.Context) (model.ConfigEntry, error)
	CreateEntry(ctx context.Context, entry model.ConfigEntry) error
	UpdateCalendars(ctx context.Context, calendars []string) error
}

// CalendarLister возвращает календари хоста, куда можно записывать события.
type CalendarLister interface {
	ListCalendars(ctx context.Context) ([]model.CalendarInfo, error)
}

// Input содержит данные формы настройки.
type Input struct {
	Username  string
	Password  string
	Calendars []string
}

// Result содержит итог шага настройки. Заполнено ровно одно из AbortReason, Errors, Entry.
type Result struct {
	AbortReason string
	Errors      map[string]string
	Entry       *model.ConfigEntry
}

// Flow проводит настройку одной записи конфигурации.
type Flow struct {
	store     Store
	client    coordinator.LoginClient
	calendars CalendarLister
	logger    *zap.Logger
}

// NewFlow создаёт сценарий настройки. calendars может быть nil, тогда
// календари проверяются только по формату идентификатора.
func NewFlow(store Store, client coordinator.LoginClient, calendars CalendarLister, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		store:     store,
		client:    client,
		calendars: calendars,
		logger:    logger.Named("setup"),
	}
}

// Run выполняет шаг пользователя. Ошибка возвращается только при сбое хранилища.
func (f *Flow) Run(ctx context.Context, in Input) (Result, error) {
	exists, err := f.entryExists(ctx)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{AbortReason: AbortAlreadyConfigured}, nil
	}

	errs := make(map[string]string)
	if in.Username == "" {
		errs[FieldUsername] = ErrorRequired
	}
	if in.Password == "" {
		errs[FieldPassword] = ErrorRequired
	}
	if code := f.validateCalendars(ctx, in.Calendars); code != "" {
		errs[FieldCalendars] = code
	}
	if len(errs) > 0 {
		return Result{Errors: errs}, nil
	}

	creds := model.Credentials{Username: in.Username, Password: in.Password}
	title, code := f.validateInput(ctx, creds)
	if code != "" {
		return Result{Errors: map[string]string{FieldBase: code}}, nil
	}

	entry := model.ConfigEntry{
		EntryID:   model.Domain,
		Title:     title,
		Username:  in.Username,
		Password:  in.Password,
		Calendars: in.Calendars,
		UIDs:      []string{},
	}
	if err := f.store.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrEntryExists) {
			return Result{AbortReason: AbortAlreadyConfigured}, nil
		}
		return Result{}, fmt.Errorf("create entry: %w", err)
	}

	f.logger.Info("config entry created", zap.String("title", title), zap.Strings("calendars", in.Calendars))
	return Result{Entry: &entry}, nil
}

// UpdateOptions меняет список целевых календарей существующей записи.
func (f *Flow) UpdateOptions(ctx context.Context, calendars []string) (Result, error) {
	if code := f.validateCalendars(ctx, calendars); code != "" {
		return Result{Errors: map[string]string{FieldCalendars: code}}, nil
	}
	if err := f.store.UpdateCalendars(ctx, calendars); err != nil {
		return Result{}, fmt.Errorf("update calendars: %w", err)
	}

	entry, err := f.store.Entry(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get entry: %w", err)
	}
	return Result{Entry: &entry}, nil
}

func (f *Flow) entryExists(ctx context.Context) (bool, error) {
	_, err := f.store.Entry(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrEntryNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("get entry: %w", err)
}

func (f *Flow) validateCalendars(ctx context.Context, calendars []string) string {
	if len(calendars) == 0 {
		return ErrorRequired
	}
	for _, c := range calendars {
		if !validation.IsValidCalendarTarget(c) {
			return ErrorInvalidCalendar
		}
	}
	if f.calendars == nil {
		return ""
	}

	available, err := f.calendars.ListCalendars(ctx)
	if err != nil {
		f.logger.Warn("failed to list calendars", zap.Error(err))
		return ErrorCannotConnect
	}
	known := make(map[string]struct{}, len(available))
	for _, c := range available {
		known[c.EntityID] = struct{}{}
	}
	for _, c := range calendars {
		if _, ok := known[c]; !ok {
			return ErrorInvalidCalendar
		}
	}
	return ""
}

// validateInput проверяет учётные данные и возвращает заголовок записи или код ошибки формы.
func (f *Flow) validateInput(ctx context.Context, creds model.Credentials) (string, string) {
	state, err := coordinator.NewLogin(f.client, creds, f.logger).Refresh(ctx)
	if err != nil {
		switch coordinator.KindOf(err) {
		case coordinator.KindInvalidAuth:
			return "", ErrorInvalidAuth
		case coordinator.KindConnection, coordinator.KindRateLimited:
			return "", ErrorCannotConnect
		default:
			f.logger.Error("unexpected exception", zap.Error(err))
			return "", ErrorUnknown
		}
	}

	title, err := state.DisplayName()
	if err != nil {
		f.logger.Error("unexpected exception", zap.Error(err))
		return "", ErrorUnknown
	}
	return title, ""
}
