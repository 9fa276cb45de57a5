package triageapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// rateLimit returns middleware allowing perMinute requests per client IP
// over a fixed one-minute window. perMinute <= 0 disables limiting.
func rateLimit(perMinute int, trustForwardHeader bool) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	lim := limiter.New(memory.NewStore(), rate, limiter.WithTrustForwardHeader(trustForwardHeader))

	limited := errorBody{
		Error:   "Rate limit exceeded",
		Message: fmt.Sprintf("Maximum %d requests per minute", perMinute),
	}
	mw := stdlib.NewMiddleware(lim,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, limited)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Message: err.Error()})
		}),
	)
	return mw.Handler
}
