package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// compressibleTypes перечисляет типы ответов, которые сжимаются при Accept-Encoding: gzip.
var compressibleTypes = []string{
	"application/json",
	"text/calendar",
	"text/html",
	"text/plain",
}

// GzipMiddleware распаковывает тела запросов с Content-Encoding: gzip и сжимает ответы.
func GzipMiddleware(next http.Handler) http.Handler {
	compress := chimw.Compress(gzip.DefaultCompression, compressibleTypes...)
	return compress(decompressRequest(next))
}

func decompressRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		defer zr.Close()

		r.Body = zr
		r.Header.Del("Content-Encoding")
		r.Header.Del("Content-Length")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}
