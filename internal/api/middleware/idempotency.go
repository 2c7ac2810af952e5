package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "associator:idempotency:"
	processingTTL  = 10 * time.Second
	completedTTL   = 24 * time.Hour
	processingMark = "PROCESSING"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Idempotency rejects a replayed POST carrying an Idempotency-Key that was
// already accepted. A failed request releases its key so the client can retry.
func Idempotency(redisClient *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := keyPrefix + key
			ctx := r.Context()

			val, err := redisClient.Get(ctx, idemKey).Result()
			switch {
			case err == nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Hit", "true")
				w.WriteHeader(http.StatusConflict)
				if val == processingMark {
					w.Write([]byte(`{"error":"concurrent request"}`))
					return
				}
				w.Write([]byte(fmt.Sprintf(`{"error":"request already processed","original_status":%s}`, val)))
				return
			case !errors.Is(err, redis.Nil):
				// redis is down, serve without the guard
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := redisClient.SetNX(ctx, idemKey, processingMark, processingTTL).Result()
			if err != nil || !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"concurrent request"}`))
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				redisClient.Set(ctx, idemKey, fmt.Sprintf("%d", rec.status), completedTTL)
				return
			}
			redisClient.Del(ctx, idemKey)
		})
	}
}
