package api

import (
	"errors"
	"fmt"
	"net/http"
)

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				w.Header().Set("Connection", "close")
				s.writeError(w, NewInternalServerError(panicError))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			s.writeError(w, NewUnauthorizedError(""))
			return
		}

		user, err := s.verifyToken(tokenString)
		if err != nil {
			s.log.Printf("failed to verify token: %v", err)
			if errors.Is(err, errTokenExpired) {
				s.writeError(w, NewUnauthorizedError(errTokenExpired.Error()))
				return
			}
			s.writeError(w, NewUnauthorizedError(""))
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

func (s *App) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, newApiError(http.StatusTooManyRequests, "too many requests"))
}
