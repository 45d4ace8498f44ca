package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/store"
)

// Meter applies the balance gate before generation and settles cost
// after it. Exactly one usage record per completed (or best-effort
// completed) request.
type Meter struct {
	store    *store.DB
	cfg      config.BillingConfig
	onRecord func(store.UsageRecord)
}

// NewMeter builds a meter over the store.
func NewMeter(db *store.DB, cfg config.BillingConfig) *Meter {
	return &Meter{store: db, cfg: cfg}
}

// OnRecord registers a hook invoked after each ledger append (usage
// feed, stats). Must be set before serving.
func (m *Meter) OnRecord(fn func(store.UsageRecord)) {
	m.onRecord = fn
}

// Gate decides whether generation may start. Returns freeTier=true when
// the account qualifies for a zero-charge request: balance below the
// threshold but lifetime request count under the cap. Returns
// ErrInsufficientBalance otherwise - before any upstream call is made.
func (m *Meter) Gate(acct *store.Account) (freeTier bool, err error) {
	if acct.Balance >= m.cfg.MinimumBalance {
		return false, nil
	}
	if !m.cfg.DisableFreeTier && acct.RequestCount < m.cfg.FreeTierCap {
		return true, nil
	}
	return false, fmt.Errorf("%w: balance %.6f below minimum %.6f",
		apierr.ErrInsufficientBalance, acct.Balance, m.cfg.MinimumBalance)
}

// Charge settles a completed generation: computes the cost, deducts it
// from the balance, bumps the lifetime counter, and appends one usage
// record. Free-tier requests are recorded at cost 0 with the balance
// untouched - the ledger entry still counts against the free-tier quota.
//
// The deduction is an atomic conditional decrement. When a concurrent
// request drained the balance between the gate and here, the remainder
// is written off by zeroing the balance: the upstream tokens are
// already spent. The ledger append is the step that must succeed;
// debit and counter errors are logged but never suppress it.
func (m *Meter) Charge(ctx context.Context, accountID, model string, tokens int, tier Tier, freeTier bool) (float64, error) {
	var cost float64
	if !freeTier {
		cost = Cost(tokens, tier, m.cfg.FloorCost)

		debited, err := m.store.DebitBalance(ctx, accountID, cost)
		switch {
		case err != nil:
			// The tokens are already spent upstream; a failed debit must
			// not also lose the ledger entry.
			log.Error().Err(err).Str("account", accountID).Float64("cost", cost).
				Msg("balance debit failed; recording usage anyway")
		case !debited:
			log.Warn().Str("account", accountID).Float64("cost", cost).
				Msg("balance no longer covers cost; writing off remainder")
			if err := m.store.DrainBalance(ctx, accountID); err != nil {
				log.Error().Err(err).Str("account", accountID).Msg("balance write-off failed")
			}
		}
	}

	if err := m.store.IncrementRequestCount(ctx, accountID); err != nil {
		log.Error().Err(err).Str("account", accountID).Msg("request counter bump failed")
	}

	rec := store.UsageRecord{
		AccountID:  accountID,
		Model:      model,
		TokenCount: tokens,
		Cost:       cost,
		CreatedAt:  time.Now(),
	}
	if err := m.store.AppendUsage(ctx, &rec); err != nil {
		return 0, err
	}

	if m.onRecord != nil {
		m.onRecord(rec)
	}

	log.Info().Str("account", accountID).Str("model", model).
		Int("tokens", tokens).Float64("cost", cost).Bool("free_tier", freeTier).
		Msg("request metered")
	return cost, nil
}
