package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

// LoginClient описывает операции API, необходимые для проверки учётных данных.
type LoginClient interface {
	Login(ctx context.Context, creds model.Credentials) (*tmm.Session, error)
	FetchUserState(ctx context.Context, session *tmm.Session) (model.UserState, error)
}

// LoginCoordinator выполняет разовую проверку учётных данных при настройке интеграции.
// Периодического расписания у него нет.
type LoginCoordinator struct {
	client LoginClient
	creds  model.Credentials
	logger *zap.Logger
}

// NewLogin создаёт координатор входа.
func NewLogin(client LoginClient, creds model.Credentials, logger *zap.Logger) *LoginCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginCoordinator{
		client: client,
		creds:  creds,
		logger: logger,
	}
}

// Refresh выполняет вход и возвращает профиль пользователя.
func (l *LoginCoordinator) Refresh(ctx context.Context) (model.UserState, error) {
	session, err := l.RefreshTokens(ctx)
	if err != nil {
		return nil, err
	}

	state, err := l.client.FetchUserState(ctx, session)
	if err != nil {
		return nil, l.wrap("fetch user state", err)
	}

	return state, nil
}

// RefreshTokens выполняет свежий вход, не затрагивая данные о доставках.
func (l *LoginCoordinator) RefreshTokens(ctx context.Context) (*tmm.Session, error) {
	session, err := l.client.Login(ctx, l.creds)
	if err != nil {
		return nil, l.wrap("login", err)
	}
	return session, nil
}

func (l *LoginCoordinator) wrap(step string, err error) error {
	uErr := classify(err)
	if uErr.Kind == KindUnknown {
		l.logger.Error("unexpected exception", zap.String("step", step), zap.Error(err))
	}
	return uErr
}
