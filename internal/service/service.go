// Package service управляет жизненным циклом интеграции: первым обновлением,
// подписками сущностей, синхронизацией календарей и обновлением по запросу.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/calsync"
	"github.com/mmeshcher/modernmilkman/internal/coordinator"
	"github.com/mmeshcher/modernmilkman/internal/entity"
	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/repository"
)

var (
	// ErrNotConfigured возвращается, если запись конфигурации ещё не создана.
	ErrNotConfigured = errors.New("integration is not configured")
	// ErrNotStarted возвращается при обращении к сервису до Start.
	ErrNotStarted = errors.New("integration is not started")
	// ErrNoLocalCalendar возвращается, если локальный календарь не выбран при настройке.
	ErrNoLocalCalendar = errors.New("local calendar is not enabled")
)

// Repository описывает контракт хранилища записи конфигурации, используемый сервисом.
type Repository interface {
	Close() error
	Entry(ctx context.Context) (model.ConfigEntry, error)
	UpdateUIDs(ctx context.Context, uids []string) error
}

// Host объединяет запись состояний сущностей и сервисы календаря хоста.
type Host interface {
	entity.StateWriter
	calsync.CalendarService
}

// Service связывает координатор, сущности и синхронизацию календарей одной записи конфигурации.
type Service struct {
	repo   Repository
	client coordinator.SessionClient
	host   Host
	logger *zap.Logger
	now    func() time.Time

	syncer *calsync.Syncer

	mu          sync.RWMutex
	entry       model.ConfigEntry
	coord       *coordinator.Coordinator
	platform    *entity.Platform
	unsubscribe func()
}

// NewService создаёт сервис. host может быть nil: тогда состояния никуда не публикуются,
// а внешние календари не синхронизируются.
func NewService(repo Repository, client coordinator.SessionClient, host Host, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		client: client,
		host:   host,
		logger: logger,
		now:    time.Now,
	}
	if host != nil {
		s.syncer = calsync.NewSyncer(host, repo, logger.Named("calsync"))
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	s.Stop()
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Start загружает запись конфигурации, подключает сущности и выполняет первое обновление.
// Без успешного первого обновления интеграция не считается готовой.
func (s *Service) Start(ctx context.Context) error {
	entry, err := s.repo.Entry(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrNotConfigured
		}
		return fmt.Errorf("load entry: %w", err)
	}

	coord := s.setup(ctx, entry)

	if err := coord.FirstRefresh(ctx); err != nil {
		return fmt.Errorf("first refresh: %w", err)
	}

	s.logger.Info("integration started",
		zap.String("title", entry.Title),
		zap.Strings("calendars", entry.Calendars),
	)
	return nil
}

// setup заменяет координатор и платформу сущностей для записи entry.
func (s *Service) setup(ctx context.Context, entry model.ConfigEntry) *coordinator.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()

	coord := s.coord
	if coord == nil || s.entry.Credentials() != entry.Credentials() {
		coord = coordinator.New(s.client, entry.Credentials(), s.logger.Named("coordinator"))
	}

	var writer entity.StateWriter
	if s.host != nil {
		writer = s.host
	}
	platform := entity.NewPlatform(entry, coord, writer, s.logger)
	platform.Attach(ctx)

	unsubscribe := func() {}
	if s.syncer != nil {
		unsubscribe = coord.Subscribe(s.syncDeliveries)
	}

	s.entry = entry
	s.coord = coord
	s.platform = platform
	s.unsubscribe = unsubscribe
	return coord
}

func (s *Service) syncDeliveries(ctx context.Context, result model.RefreshResult) {
	uids, err := s.syncer.Sync(ctx, result.NextDelivery, s.now())
	if err != nil {
		s.logger.Warn("calendar sync failed", zap.Error(err))
		return
	}
	s.logger.Debug("calendar sync finished", zap.Int("uids", len(uids)))
}

// Stop отписывает сущности и синхронизацию от координатора.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Service) detachLocked() {
	if s.platform != nil {
		s.platform.Detach()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Reload применяет изменённую запись конфигурации. Если изменились учётные данные
// или целевые календари, сущности пересоздаются и выполняется обновление.
func (s *Service) Reload(ctx context.Context, entry model.ConfigEntry) error {
	s.mu.RLock()
	current, started := s.entry, s.coord != nil
	s.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}
	if current.Credentials() == entry.Credentials() &&
		current.Title == entry.Title &&
		slices.Equal(current.Calendars, entry.Calendars) {
		return nil
	}

	s.logger.Info("config entry changed, reloading", zap.Strings("calendars", entry.Calendars))
	coord := s.setup(ctx, entry)
	if _, err := coord.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after reload: %w", err)
	}
	return nil
}

// Refresh выполняет обновление по запросу.
func (s *Service) Refresh(ctx context.Context) (model.RefreshResult, error) {
	coord, err := s.coordinator()
	if err != nil {
		return model.RefreshResult{}, err
	}
	return coord.Refresh(ctx)
}

// Data возвращает последний успешный результат обновления.
func (s *Service) Data() (model.RefreshResult, bool) {
	coord, err := s.coordinator()
	if err != nil {
		return model.RefreshResult{}, false
	}
	return coord.Data()
}

// LastError возвращает ошибку последнего цикла обновления.
func (s *Service) LastError() error {
	coord, err := s.coordinator()
	if err != nil {
		return err
	}
	return coord.LastError()
}

// Entities возвращает состояния всех сущностей.
func (s *Service) Entities() []model.EntityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.platform == nil {
		return nil
	}
	return s.platform.States()
}

// Entity возвращает состояние сущности по идентификатору.
func (s *Service) Entity(entityID string) (model.EntityState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.platform == nil {
		return model.EntityState{}, false
	}
	return s.platform.State(entityID)
}

// CalendarEvents возвращает события локального календаря в интервале [start, end].
func (s *Service) CalendarEvents(start, end time.Time) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	platform := s.platform
	s.mu.RUnlock()

	if platform == nil {
		return nil, ErrNotStarted
	}
	cal, ok := platform.Calendar()
	if !ok {
		return nil, ErrNoLocalCalendar
	}
	return cal.Events(start, end), nil
}

// Title возвращает заголовок записи конфигурации.
func (s *Service) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry.Title
}

func (s *Service) coordinator() (*coordinator.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.coord == nil {
		return nil, ErrNotStarted
	}
	return s.coord, nil
}
