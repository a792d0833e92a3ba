// Package coordinator реализует цикл обновления данных интеграции: вход, запросы к API,
// классификацию ошибок, кеш последнего результата и оповещение подписчиков.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

// UpdateInterval задаёт интервал планового обновления.
const UpdateInterval = 24 * time.Hour

// SessionClient описывает операции API, необходимые для цикла обновления.
type SessionClient interface {
	Login(ctx context.Context, creds model.Credentials) (*tmm.Session, error)
	FetchWastage(ctx context.Context, session *tmm.Session) (model.WastageRecord, error)
	FetchNextDelivery(ctx context.Context, session *tmm.Session) (model.NextDelivery, error)
}

// Listener вызывается с новым результатом после каждого успешного обновления.
type Listener func(ctx context.Context, result model.RefreshResult)

// Coordinator выполняет цикл обновления и хранит последний успешный результат.
type Coordinator struct {
	name   string
	client SessionClient
	creds  model.Credentials
	logger *zap.Logger
	now    func() time.Time

	refreshMu sync.Mutex

	mu                sync.RWMutex
	data              *model.RefreshResult
	lastErr           error
	lastUpdateSuccess bool
	listeners         map[int]Listener
	nextListenerID    int
}

// New создаёт координатор для указанных учётных данных.
func New(client SessionClient, creds model.Credentials, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		name:      "The Modern Milkman",
		client:    client,
		creds:     creds,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Refresh выполняет один цикл обновления: вход, затем последовательно статистику и следующую доставку.
// При ошибке кеш не меняется, а ошибка имеет тип *UpdateError.
func (c *Coordinator) Refresh(ctx context.Context) (model.RefreshResult, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := c.now()
	result, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.lastUpdateSuccess = false
		c.mu.Unlock()

		c.logger.Warn("refresh failed",
			zap.String("coordinator", c.name),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
		return model.RefreshResult{}, err
	}

	c.mu.Lock()
	c.data = &result
	c.lastErr = nil
	c.lastUpdateSuccess = true
	listeners := make([]Listener, 0, len(c.listeners))
	for id := 0; id < c.nextListenerID; id++ {
		if l, ok := c.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	c.mu.Unlock()

	c.logger.Info("refresh finished",
		zap.String("coordinator", c.name),
		zap.Duration("duration", c.now().Sub(start)),
		zap.Bool("next_delivery_known", !result.NextDelivery.IsUnknown()),
	)

	for _, l := range listeners {
		l(ctx, result)
	}

	return result, nil
}

// FirstRefresh выполняет первое обновление при запуске. Без успешного первого обновления
// интеграцию нельзя считать готовой.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

func (c *Coordinator) fetch(ctx context.Context) (model.RefreshResult, error) {
	session, err := c.client.Login(ctx, c.creds)
	if err != nil {
		return model.RefreshResult{}, c.wrap("login", err)
	}

	wastage, err := c.client.FetchWastage(ctx, session)
	if err != nil {
		return model.RefreshResult{}, c.wrap("fetch wastage", err)
	}

	next, err := c.client.FetchNextDelivery(ctx, session)
	if err != nil {
		return model.RefreshResult{}, c.wrap("fetch next delivery", err)
	}

	return model.RefreshResult{
		Wastage:      wastage,
		NextDelivery: next,
		FetchedAt:    c.now(),
	}, nil
}

func (c *Coordinator) wrap(step string, err error) error {
	uErr := classify(err)
	if uErr.Kind == KindUnknown {
		c.logger.Error("unexpected exception", zap.String("step", step), zap.Error(err))
	}
	if uErr.Kind == KindValue {
		c.logger.Error("value error occurred", zap.String("step", step), zap.Error(err))
	}
	return uErr
}

// Data возвращает последний успешный результат.
func (c *Coordinator) Data() (model.RefreshResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil {
		return model.RefreshResult{}, false
	}
	return *c.data, true
}

// LastError возвращает ошибку последнего цикла или nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdateSuccess сообщает, был ли последний цикл успешным.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

// Subscribe регистрирует подписчика и возвращает функцию отписки.
// Подписчики вызываются в порядке регистрации.
func (c *Coordinator) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}
