// Package keypool holds the upstream provider credentials.
//
// DESIGN: In-process concurrent-safe registry refreshed periodically
// from the operator-managed credentials table, so Acquire() never costs
// a network round-trip. Selection is uniformly random (not round-robin):
// it spreads load across keys without coordination and avoids hot-key
// clustering under concurrent load. Pool exhaustion never errors - a
// statically configured fallback credential guarantees a usable key,
// with degraded load distribution as the accepted cost.
package keypool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/store"
	"github.com/botwire/inference-gateway/internal/utils"
)

// Credential statuses as stored in the credentials table.
const (
	StatusActive  = "active"
	StatusOffline = "offline"
)

// FallbackID identifies the static fallback credential. It has no row
// in the store and is never demoted.
const FallbackID = "static-fallback"

const storeWriteTimeout = 5 * time.Second

// Credential is a usable upstream secret handed out by the pool.
type Credential struct {
	ID     string
	Secret string
}

// Store is the subset of the persistence layer the pool needs.
type Store interface {
	ListCredentials(ctx context.Context) ([]store.Credential, error)
	SetCredentialStatus(ctx context.Context, id, status string) error
	TouchCredential(ctx context.Context, id string, at time.Time) error
}

// Pool is the in-process credential registry.
type Pool struct {
	mu       sync.RWMutex
	active   []Credential
	demoted  map[string]bool // demotions not yet visible in the store
	fallback Credential

	store  Store
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a pool around the store, loads it once, and starts the
// periodic refresh. Call Stop when done.
func New(st Store, fallbackSecret string, refreshInterval time.Duration) *Pool {
	p := &Pool{
		demoted:  make(map[string]bool),
		fallback: Credential{ID: FallbackID, Secret: fallbackSecret},
		store:    st,
		stopCh:   make(chan struct{}),
	}

	if err := p.refresh(); err != nil {
		log.Warn().Err(err).Msg("initial credential pool load failed; serving from fallback")
	}

	p.wg.Add(1)
	go p.refreshLoop(refreshInterval)
	return p
}

// Acquire returns a uniformly-random active credential, or the static
// fallback when none are active. Never errors.
func (p *Pool) Acquire() Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.active) == 0 {
		return p.fallback
	}
	return p.active[rand.Intn(len(p.active))]
}

// Release records last use. Advisory and non-blocking; never required
// for correctness.
func (p *Pool) Release(id string) {
	if id == FallbackID {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		if err := p.store.TouchCredential(ctx, id, time.Now()); err != nil {
			log.Debug().Err(err).Str("credential", id).Msg("credential release not recorded")
		}
	}()
}

// Demote flips a credential to offline. Idempotent; the only transition
// is active -> offline, so last-write-wins is fine. The write-through to
// the store is asynchronous - the local registry drops the key
// immediately, which is what protects subsequent Acquire calls.
func (p *Pool) Demote(id string) {
	if id == FallbackID {
		return
	}

	p.mu.Lock()
	p.demoted[id] = true
	kept := p.active[:0]
	for _, c := range p.active {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	p.active = kept
	remaining := len(p.active)
	p.mu.Unlock()

	log.Warn().Str("credential", id).Int("active_remaining", remaining).
		Msg("credential demoted after auth failure")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		if err := p.store.SetCredentialStatus(ctx, id, StatusOffline); err != nil {
			log.Error().Err(err).Str("credential", id).Msg("failed to persist credential demotion")
		}
	}()
}

// ActiveCount reports the number of active pool members (excludes the
// fallback).
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// Stop halts the refresh loop.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Refresh reloads the registry from the store immediately.
func (p *Pool) Refresh() error {
	return p.refresh()
}

func (p *Pool) refreshLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.refresh(); err != nil {
				log.Warn().Err(err).Msg("credential pool refresh failed; keeping previous view")
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	creds, err := p.store.ListCredentials(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	active := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if c.Status == StatusOffline {
			// Demotion has landed in the store; no need to guard it locally.
			delete(p.demoted, c.ID)
			continue
		}
		if p.demoted[c.ID] {
			continue
		}
		active = append(active, Credential{ID: c.ID, Secret: c.Secret})
	}
	p.active = active

	log.Debug().Int("active", len(active)).Msg("credential pool refreshed")
	if len(active) == 0 {
		log.Warn().Str("fallback", utils.MaskKey(p.fallback.Secret)).
			Msg("no active pool credentials; requests will use the static fallback")
	}
	return nil
}
