// Package fakes provides in-memory repository implementations for
// tests. All fakes are safe for concurrent use so race-oriented tests
// exercise the same interleavings the real stores allow.
package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/internal/infrastructure/audit"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
)

// ================================================================================
// Key repository
// ================================================================================

// KeyRepository is an in-memory repository.KeyRepository.
type KeyRepository struct {
	mu   sync.Mutex
	keys map[string]*models.SigningKey

	// FailCreate forces Create to return a storage error.
	FailCreate bool
}

// NewKeyRepository builds an empty in-memory key store.
func NewKeyRepository() *KeyRepository {
	return &KeyRepository{keys: make(map[string]*models.SigningKey)}
}

func (r *KeyRepository) Create(_ context.Context, key *models.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate {
		return errors.ErrStorage
	}
	clone := *key
	r.keys[key.KID] = &clone
	return nil
}

func (r *KeyRepository) FindByKID(_ context.Context, kid string) (*models.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[kid]
	if !ok {
		return nil, errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	clone := *key
	return &clone, nil
}

func (r *KeyRepository) FindActive(_ context.Context) (*models.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Active {
			clone := *key
			return &clone, nil
		}
	}
	return nil, errors.ErrNoActiveKey
}

func (r *KeyRepository) FindUnexpired(_ context.Context, now time.Time) ([]*models.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SigningKey
	for _, key := range r.keys {
		if key.ExpiresAt.After(now) {
			clone := *key
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *KeyRepository) Activate(_ context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.keys[kid]
	if !ok {
		return errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	if target.IsExpired(time.Now().UTC()) {
		return errors.ErrKeyExpired.WithMetadata("kid", kid)
	}
	for _, key := range r.keys {
		key.Active = false
	}
	target.Active = true
	return nil
}

func (r *KeyRepository) Deactivate(_ context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[kid]
	if !ok {
		return errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	key.Active = false
	return nil
}

func (r *KeyRepository) Expire(_ context.Context, kid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[kid]
	if !ok {
		return errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	key.ExpiresAt = at
	return nil
}

func (r *KeyRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for kid, key := range r.keys {
		if key.ExpiresAt.Before(cutoff) {
			delete(r.keys, kid)
			removed++
		}
	}
	return removed, nil
}

// Count returns how many keys the store holds.
func (r *KeyRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// ================================================================================
// Token repository
// ================================================================================

// TokenRepository is an in-memory repository.TokenRepository.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.IssuedToken

	// FailSaveBatch forces SaveBatch to fail without persisting.
	FailSaveBatch bool
	// FailTouch forces TouchLastUsed to fail.
	FailTouch bool
}

// NewTokenRepository builds an empty in-memory token store.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]*models.IssuedToken)}
}

func (r *TokenRepository) Save(_ context.Context, token *models.IssuedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *token
	r.tokens[token.TokenID] = &clone
	return nil
}

func (r *TokenRepository) SaveBatch(ctx context.Context, tokens []*models.IssuedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSaveBatch {
		return errors.ErrStorage
	}
	for _, token := range tokens {
		clone := *token
		r.tokens[token.TokenID] = &clone
	}
	return nil
}

func (r *TokenRepository) FindByID(_ context.Context, tokenID string) (*models.IssuedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenID]
	if !ok {
		return nil, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
	}
	clone := *token
	return &clone, nil
}

func (r *TokenRepository) FindActiveByUser(_ context.Context, userID string) ([]*models.IssuedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*models.IssuedToken
	for _, token := range r.tokens {
		if token.UserID == userID && token.IsActive(now) {
			clone := *token
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *TokenRepository) Revoke(_ context.Context, tokenID, reason string, revokedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenID]
	if !ok {
		return false, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
	}
	if token.Revoked {
		return false, nil
	}
	token.Revoked = true
	token.RevokedAt = &revokedAt
	token.RevocationReason = reason
	return true, nil
}

func (r *TokenRepository) TouchLastUsed(_ context.Context, tokenID string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailTouch {
		return errors.ErrStorage
	}
	if token, ok := r.tokens[tokenID]; ok {
		token.LastUsedAt = &usedAt
	}
	return nil
}

func (r *TokenRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, token := range r.tokens {
		if int(removed) >= limit {
			break
		}
		if token.ExpiresAt.Before(cutoff) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// Get returns the stored record, nil if absent.
func (r *TokenRepository) Get(tokenID string) *models.IssuedToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenID]
	if !ok {
		return nil
	}
	clone := *token
	return &clone
}

// Count returns how many records the store holds.
func (r *TokenRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// ================================================================================
// Revocation ledger and cache
// ================================================================================

// RevocationRepository is an in-memory repository.RevocationRepository.
type RevocationRepository struct {
	mu      sync.Mutex
	entries map[string]*models.RevocationEntry
}

// NewRevocationRepository builds an empty in-memory ledger.
func NewRevocationRepository() *RevocationRepository {
	return &RevocationRepository{entries: make(map[string]*models.RevocationEntry)}
}

func (r *RevocationRepository) Insert(_ context.Context, entry *models.RevocationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.TokenID]; exists {
		return nil
	}
	clone := *entry
	r.entries[entry.TokenID] = &clone
	return nil
}

func (r *RevocationRepository) Exists(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[tokenID]
	return ok, nil
}

func (r *RevocationRepository) FindByID(_ context.Context, tokenID string) (*models.RevocationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[tokenID]
	if !ok {
		return nil, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
	}
	clone := *entry
	return &clone, nil
}

func (r *RevocationRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, entry := range r.entries {
		if int(removed) >= limit {
			break
		}
		if entry.ExpiresAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns how many entries the ledger holds.
func (r *RevocationRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RevocationCache is an in-memory repository.RevocationCache.
type RevocationCache struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewRevocationCache builds an empty in-memory cache.
func NewRevocationCache() *RevocationCache {
	return &RevocationCache{revoked: make(map[string]time.Time)}
}

func (c *RevocationCache) Put(_ context.Context, tokenID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		return nil
	}
	c.revoked[tokenID] = time.Now().Add(ttl)
	return nil
}

func (c *RevocationCache) Contains(_ context.Context, tokenID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(c.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// ================================================================================
// Audit publisher
// ================================================================================

// AuditPublisher records published events so tests can assert on the
// audit trail.
type AuditPublisher struct {
	mu     sync.Mutex
	events []*audit.Event
}

// NewAuditPublisher builds an empty recording publisher.
func NewAuditPublisher() *AuditPublisher {
	return &AuditPublisher{}
}

func (p *AuditPublisher) Publish(_ context.Context, event *audit.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := *event
	p.events = append(p.events, &clone)
}

func (p *AuditPublisher) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (p *AuditPublisher) Events() []*audit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*audit.Event, len(p.events))
	copy(out, p.events)
	return out
}

// CountOf returns how many events of the given type were published.
func (p *AuditPublisher) CountOf(eventType constants.AuditEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, event := range p.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

// LastOf returns the most recent event of the given type, nil if none.
func (p *AuditPublisher) LastOf(eventType constants.AuditEventType) *audit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].EventType == eventType {
			clone := *p.events[i]
			return &clone
		}
	}
	return nil
}

// Interface conformance checks.
var (
	_ repository.KeyRepository        = (*KeyRepository)(nil)
	_ repository.TokenRepository      = (*TokenRepository)(nil)
	_ repository.RevocationRepository = (*RevocationRepository)(nil)
	_ repository.RevocationCache      = (*RevocationCache)(nil)
	_ audit.Publisher                 = (*AuditPublisher)(nil)
)
