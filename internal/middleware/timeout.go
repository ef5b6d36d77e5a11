package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Timeout middleware adds a timeout to requests. Requests whose path starts
// with one of skip, and websocket upgrades, run without a deadline.
func Timeout(timeout time.Duration, skip ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 || isLongLived(r, skip) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				return
			case p := <-panicked:
				// hand the panic to Recovery on the serving goroutine
				panic(p)
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					writeError(w, r, http.StatusRequestTimeout, ErrorCodeRequestTimeout, ErrorMessageRequestTimeout)
				}
			}
		})
	}
}

func isLongLived(r *http.Request, skip []string) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	for _, prefix := range skip {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}
