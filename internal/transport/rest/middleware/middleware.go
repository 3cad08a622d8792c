package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ymgta/pfrisk/utils"
)

// RequestID issues a request ID, stores it in the request context and
// logs the request pair the same way service-layer operations do.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()

		rqID := utils.NewRequestID()
		ctx := utils.CtxWithRequestID(r.Context(), rqID)
		w.Header().Set("X-Request-Id", rqID)

		slog.Info(
			"start request",
			slog.String("rqID", rqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		defer func() {
			slog.Info(
				"request finished",
				slog.String("rqID", rqID),
				slog.String("request duration", fmt.Sprintf("%.2fs", time.Since(now).Seconds())),
			)
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
