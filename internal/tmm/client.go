// Package tmm предоставляет клиент для веб-API сервиса доставки молока The Modern Milkman.
package tmm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/mmeshcher/modernmilkman/internal/model"
)

// DefaultBaseURL содержит адрес API поставщика по умолчанию.
const DefaultBaseURL = "https://tmm-website-xi.vercel.app/api"

const (
	loginPath        = "/auth/login"
	wastagePath      = "/user/wastage"
	nextDeliveryPath = "/delivery/next"
	userStatePath    = "/user/state"
)

var (
	// ErrInvalidAuth возвращается при неверных учётных данных (HTTP 401).
	ErrInvalidAuth = errors.New("invalid authentication credentials")
	// ErrRateLimited возвращается при превышении лимита запросов (HTTP 429).
	ErrRateLimited = errors.New("api rate limit exceeded")
	// ErrNotFound зарезервирована для отсутствующих ресурсов.
	ErrNotFound = errors.New("resource not found")
	// ErrConnection возвращается, если до API не удалось достучаться.
	ErrConnection = errors.New("cannot connect")
	// ErrMalformedResponse возвращается, если тело ответа не удалось разобрать.
	ErrMalformedResponse = errors.New("malformed response")
)

// RateLimitError описывает ответ 429 и рекомендованную паузу.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

// Is позволяет сравнивать ошибку с ErrRateLimited через errors.Is.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusError описывает неожиданный HTTP-статус ответа.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status: %d", e.Path, e.Code)
}

// Client инкапсулирует HTTP-взаимодействие с API поставщика.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API по указанному адресу.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Login выполняет вход и возвращает сессию для последующих запросов.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*Session, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}

	session := &Session{}
	resp, err := c.do(ctx, session, http.MethodPost, loginPath, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, loginPath); err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: loginPath, Code: resp.StatusCode}
	}

	return session, nil
}

// FetchWastage запрашивает статистику сэкономленных бутылок.
func (c *Client) FetchWastage(ctx context.Context, session *Session) (model.WastageRecord, error) {
	resp, err := c.do(ctx, session, http.MethodGet, wastagePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, wastagePath); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Path: wastagePath, Code: resp.StatusCode}
	}

	fields, err := decodeObject(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wastagePath, err)
	}

	record := model.WastageRecord(fields)
	if _, ok := record.BottlesSaved(); !ok {
		return nil, fmt.Errorf("%s: %w: %s is missing or not numeric", wastagePath, ErrMalformedResponse, model.FieldBottlesSaved)
	}

	return record, nil
}

// FetchNextDelivery запрашивает дату следующей доставки.
// Любой статус, кроме 200, означает, что доставки нет, и возвращается заглушка Unknown.
func (c *Client) FetchNextDelivery(ctx context.Context, session *Session) (model.NextDelivery, error) {
	resp, err := c.do(ctx, session, http.MethodGet, nextDeliveryPath, nil)
	if err != nil {
		return model.NextDelivery{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.UnknownDelivery(), nil
	}

	fields, err := decodeObject(resp.Body)
	if err != nil {
		return model.NextDelivery{}, fmt.Errorf("%s: %w", nextDeliveryPath, err)
	}

	next := model.NextDelivery{Fields: fields}
	if _, err := next.Date(); err != nil {
		return model.NextDelivery{}, fmt.Errorf("%s: %w: %v", nextDeliveryPath, ErrMalformedResponse, err)
	}

	return next, nil
}

// FetchUserState запрашивает профиль пользователя.
func (c *Client) FetchUserState(ctx context.Context, session *Session) (model.UserState, error) {
	resp, err := c.do(ctx, session, http.MethodGet, userStatePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, userStatePath); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Path: userStatePath, Code: resp.StatusCode}
	}

	fields, err := decodeObject(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", userStatePath, err)
	}

	return model.UserState(fields), nil
}

func (c *Client) do(ctx context.Context, session *Session, method, path string, body []byte) (*http.Response, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("tmm client not configured")
	}
	if session == nil {
		return nil, fmt.Errorf("%s: no session", path)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	session.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %v", path, ErrConnection, err)
	}

	session.update(resp.Cookies())
	return resp, nil
}

func checkStatus(resp *http.Response, path string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", path, ErrInvalidAuth)
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return fmt.Errorf("%s: %w", path, &RateLimitError{RetryAfter: retryAfter})
	}
	return nil
}

func decodeObject(r io.Reader) (map[string]any, error) {
	var fields map[string]any
	if err := json.NewDecoder(r).Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: empty object", ErrMalformedResponse)
	}
	return fields, nil
}
