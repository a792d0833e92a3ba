package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/coordinator"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

// Source описывает координатор обновлений, на который подписывается платформа.
type Source interface {
	Status
	Data() (model.RefreshResult, bool)
	Subscribe(l coordinator.Listener) func()
}

// StateWriter записывает состояния сущностей в хост.
type StateWriter interface {
	PublishState(ctx context.Context, st model.EntityState) error
}

// Platform владеет сущностями одной записи конфигурации и рассылает им обновления.
type Platform struct {
	source Source
	writer StateWriter
	logger *zap.Logger

	wastage  *WastageSensor
	next     *NextDeliverySensor
	calendar *DeliveryCalendar
	entities []Entity

	mu          sync.Mutex
	unsubscribe func()
}

// NewPlatform создаёт сущности для записи entry. Календарь создаётся только
// когда среди целей есть локальный календарь. writer может быть nil.
func NewPlatform(entry model.ConfigEntry, source Source, writer StateWriter, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Platform{
		source:  source,
		writer:  writer,
		logger:  logger.Named("entity"),
		wastage: NewWastageSensor(entry.Title),
		next:    NewNextDeliverySensor(entry.Title),
	}
	p.entities = []Entity{p.next, p.wastage}
	if entry.HasLocalCalendar() {
		p.calendar = NewDeliveryCalendar(entry.Title)
		p.entities = append(p.entities, p.calendar)
	}
	return p
}

// Attach подписывает сущности на координатор и применяет уже полученные данные.
func (p *Platform) Attach(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		return
	}
	if result, ok := p.source.Data(); ok {
		p.apply(ctx, result)
	}
	p.unsubscribe = p.source.Subscribe(p.apply)
}

// Detach отписывает сущности от координатора.
func (p *Platform) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Platform) apply(ctx context.Context, result model.RefreshResult) {
	for _, e := range p.entities {
		e.Update(result)
	}
	if err := p.Publish(ctx); err != nil {
		p.logger.Warn("failed to publish entity states", zap.Error(err))
	}
}

// Publish записывает текущие состояния всех сущностей в хост.
func (p *Platform) Publish(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}

	var errs []error
	for _, st := range p.States() {
		if err := p.writer.PublishState(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.EntityID, err))
		}
	}
	return errors.Join(errs...)
}

// States возвращает состояния всех сущностей платформы.
func (p *Platform) States() []model.EntityState {
	states := make([]model.EntityState, 0, len(p.entities))
	for _, e := range p.entities {
		states = append(states, e.State(p.source))
	}
	return states
}

// State возвращает состояние сущности по идентификатору.
func (p *Platform) State(entityID string) (model.EntityState, bool) {
	for _, e := range p.entities {
		if e.EntityID() == entityID {
			return e.State(p.source), true
		}
	}
	return model.EntityState{}, false
}

// Calendar возвращает локальный календарь, если он создан.
func (p *Platform) Calendar() (*DeliveryCalendar, bool) {
	return p.calendar, p.calendar != nil
}

// Wastage возвращает сенсор статистики.
func (p *Platform) Wastage() *WastageSensor {
	return p.wastage
}

// NextDelivery возвращает сенсор следующей доставки.
func (p *Platform) NextDelivery() *NextDeliverySensor {
	return p.next
}
