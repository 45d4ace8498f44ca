package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/store"
	"github.com/botwire/inference-gateway/internal/utils"
)

// feedBuffer is the per-subscriber event backlog. Slow consumers drop
// events rather than stall metering.
const feedBuffer = 64

// usageEvent is the wire shape of one ledger append on the feed.
type usageEvent struct {
	AccountID  string    `json:"account_id"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
	Cost       float64   `json:"cost"`
	CreatedAt  time.Time `json:"created_at"`
}

// UsageFeed broadcasts usage ledger appends to websocket subscribers
// (operator tooling, live tails).
type UsageFeed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewUsageFeed creates an empty feed.
func NewUsageFeed() *UsageFeed {
	return &UsageFeed{subs: make(map[chan []byte]struct{})}
}

// Broadcast fans a ledger entry out to all subscribers. Non-blocking.
func (f *UsageFeed) Broadcast(rec store.UsageRecord) {
	data, err := utils.MarshalNoEscape(usageEvent{
		AccountID:  rec.AccountID,
		Model:      rec.Model,
		TokenCount: rec.TokenCount,
		Cost:       rec.Cost,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- data:
		default:
			// Subscriber is behind; drop rather than block.
		}
	}
}

func (f *UsageFeed) subscribe() chan []byte {
	ch := make(chan []byte, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *UsageFeed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// handleUsageFeed upgrades to a websocket and streams usage events
// until the client hangs up.
func (g *Gateway) handleUsageFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("usage feed upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := g.feed.subscribe()
	defer g.feed.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
