package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/botwire/inference-gateway/internal/store"
)

type ctxKey int

const accountCtxKey ctxKey = iota

// maxLimiterBuckets prevents memory exhaustion from unbounded account churn.
const maxLimiterBuckets = 10000

// accountLimiters holds one token bucket per account.
type accountLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     float64
	burst   int
}

func newAccountLimiters(rps float64, burst int) *accountLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &accountLimiters{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

// allow reports whether the account may proceed. Disabled (rps <= 0)
// always allows.
func (l *accountLimiters) allow(accountID string) bool {
	if l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[accountID]
	if !ok {
		if len(l.buckets) >= maxLimiterBuckets {
			// Shed all buckets rather than track an unbounded set.
			l.buckets = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.buckets[accountID] = lim
	}
	return lim.Allow()
}

// withAccount resolves the caller's account from the bearer credential.
// Credential validation itself belongs to the auth collaborator; here
// the token is the opaque account id of an already-provisioned row.
func (g *Gateway) withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			writeError(w, http.StatusUnauthorized, "missing bearer credential",
				"authentication_error", "missing_credential")
			return
		}

		acct, err := g.store.GetAccount(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid credential",
					"authentication_error", "invalid_credential")
				return
			}
			log.Error().Err(err).Msg("account lookup failed")
			writeError(w, http.StatusInternalServerError, "account lookup failed",
				"gateway_error", "internal_error")
			return
		}

		if !g.limiters.allow(acct.ID) {
			writeError(w, http.StatusTooManyRequests, "account rate limit exceeded",
				"rate_limit_error", "account_rate_limited")
			return
		}

		ctx := context.WithValue(r.Context(), accountCtxKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accountFrom returns the account resolved by withAccount.
func accountFrom(ctx context.Context) *store.Account {
	acct, _ := ctx.Value(accountCtxKey).(*store.Account)
	return acct
}

// writeError writes the error envelope used for all failure modes.
func writeError(w http.ResponseWriter, status int, msg, typ, code string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: msg, Type: typ, Code: code}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
