package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

// Kind классифицирует причину неудачного обновления.
type Kind int

const (
	// KindUnknown обозначает неожиданную ошибку, не попавшую ни в один класс.
	KindUnknown Kind = iota
	// KindInvalidAuth: неверные учётные данные, требуется повторный ввод.
	KindInvalidAuth
	// KindRateLimited: превышен лимит запросов, повторить позже.
	KindRateLimited
	// KindNotFound зарезервирован.
	KindNotFound
	// KindConnection: API недоступно.
	KindConnection
	// KindValue: ответ API не удалось разобрать.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAuth:
		return "invalid_auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindConnection:
		return "cannot_connect"
	case KindValue:
		return "value_error"
	default:
		return "unknown"
	}
}

var (
	// ErrAuthFailed возвращается при ошибке аутентификации во время обновления, хост должен запросить повторный вход.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUpdateFailed возвращается, когда обновление не удалось; повтор на следующем интервале.
	ErrUpdateFailed = errors.New("update failed")
)

// UpdateError описывает результат неудачного цикла обновления.
type UpdateError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *UpdateError) Error() string {
	if e.Kind == KindInvalidAuth {
		return fmt.Sprintf("%s: %s", ErrAuthFailed, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrUpdateFailed, e.Reason)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is связывает InvalidAuth с ErrAuthFailed, а остальные классы с ErrUpdateFailed.
func (e *UpdateError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Kind == KindInvalidAuth
	case ErrUpdateFailed:
		return e.Kind != KindInvalidAuth
	}
	return false
}

// KindOf возвращает класс ошибки обновления или KindUnknown.
func KindOf(err error) Kind {
	var uErr *UpdateError
	if errors.As(err, &uErr) {
		return uErr.Kind
	}
	return KindUnknown
}

// classify переводит ошибку клиента API в UpdateError.
func classify(err error) *UpdateError {
	switch {
	case errors.Is(err, tmm.ErrInvalidAuth):
		return &UpdateError{Kind: KindInvalidAuth, Reason: "invalid authentication credentials", Err: err}
	case errors.Is(err, tmm.ErrRateLimited):
		return &UpdateError{Kind: KindRateLimited, Reason: err.Error(), Err: err}
	case errors.Is(err, tmm.ErrNotFound):
		return &UpdateError{Kind: KindNotFound, Reason: err.Error(), Err: err}
	case errors.Is(err, tmm.ErrConnection):
		return &UpdateError{Kind: KindConnection, Reason: err.Error(), Err: err}
	case errors.Is(err, tmm.ErrMalformedResponse):
		return &UpdateError{Kind: KindValue, Reason: fmt.Sprintf("unexpected response: %v", err), Err: err}
	}

	var statusErr *tmm.StatusError
	if errors.As(err, &statusErr) {
		return &UpdateError{Kind: KindUnknown, Reason: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &UpdateError{Kind: KindConnection, Reason: err.Error(), Err: err}
	}

	return &UpdateError{Kind: KindUnknown, Reason: fmt.Sprintf("unexpected error: %v", err), Err: err}
}
