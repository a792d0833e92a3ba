package tmm

import (
	"net/http"
	"sync"
)

// SessionCookieName содержит имя cookie, которое API выставляет после входа.
const SessionCookieName = "__Secure-session"

// Session хранит cookie, полученные при входе и последующих запросах.
// Сессия передаётся в каждый запрос явно; повторный вход создаёт новую сессию.
type Session struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// Token возвращает значение сессионного cookie, если API его выставил.
func (s *Session) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cookies[SessionCookieName]
	if !ok {
		return "", false
	}
	return c.Value, true
}

func (s *Session) apply(req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func (s *Session) update(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cookies == nil {
		s.cookies = make(map[string]*http.Cookie, len(cookies))
	}
	for _, c := range cookies {
		// MaxAge < 0: сервер удаляет cookie.
		if c.MaxAge < 0 {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}
}
