// Package middleware содержит HTTP middleware API интеграции.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// AuthMiddleware пропускает запросы только с правильным bearer-токеном.
// С пустым токеном проверка отключена.
type AuthMiddleware struct {
	tokenSum []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным токеном.
func NewAuthMiddleware(token string) *AuthMiddleware {
	if token == "" {
		return &AuthMiddleware{}
	}
	return &AuthMiddleware{tokenSum: digest(token)}
}

// Enabled сообщает, настроен ли токен.
func (a *AuthMiddleware) Enabled() bool {
	return a != nil && a.tokenSum != nil
}

// Middleware проверяет заголовок Authorization.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok || !hmac.Equal(digest(token), a.tokenSum) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="modernmilkman"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// digest выравнивает длину сравниваемых значений.
func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
