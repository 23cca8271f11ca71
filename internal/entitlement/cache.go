package entitlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/scrypt"

	autherrors "cardauth/internal/errors"
)

// Store is the key-value persistence facility backing the cache. It is an
// external collaborator: the cache holds no state of its own.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// envelope wraps the serialized record with an HMAC signature so a
// tampered or foreign cache entry reads as absent instead of granting
// authorization.
type envelope struct {
	Record    json.RawMessage `json:"record"`
	Signature string          `json:"signature"`
}

// scryptSalt is fixed: the derived key only needs to differ per machine
// code, not per installation.
var scryptSalt = []byte("cardauth-cache-v1")

// DeriveCacheKey derives the cache signing key from the machine code, so a
// cache entry copied to another machine fails its signature check.
func DeriveCacheKey(machineCode string) ([]byte, error) {
	key, err := scrypt.Key([]byte(machineCode), scryptSalt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cache key: %w", err)
	}
	return key, nil
}

// Cache persists at most one entitlement record under a fixed storage key,
// with expiry- and tamper-aware load semantics.
type Cache struct {
	store      Store
	storageKey string
	signingKey []byte
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes cache construction
type Option func(*Cache)

// WithClock overrides the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an entitlement cache over the given store. signingKey
// should come from DeriveCacheKey.
func NewCache(store Store, storageKey string, signingKey []byte, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:      store,
		storageKey: storageKey,
		signingKey: signingKey,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "entitlement_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the persisted record. A corrupt entry, a bad signature, or an
// expired time-limited record deletes the persisted entry and returns
// absent; Load never returns a stale or malformed record. The expiry check
// uses wall-clock time at call time.
func (c *Cache) Load() (*Record, error) {
	raw, ok, err := c.store.Get(c.storageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlement cache: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.discard(autherrors.ErrCacheCorrupt, err)
		return nil, nil
	}

	if !c.verify(env) {
		c.discard(autherrors.ErrCacheCorrupt, errSignatureMismatch)
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(env.Record, &rec); err != nil {
		c.discard(autherrors.ErrCacheCorrupt, err)
		return nil, nil
	}

	if rec.Expired(c.now()) {
		c.discard(autherrors.ErrCacheExpired, nil,
			slog.Int64("expire_time", rec.ExpireTime))
		return nil, nil
	}

	return &rec, nil
}

// Save overwrites the persisted entry with the serialized record. The
// write is whole-record: there are no partial updates.
func (c *Cache) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cannot save absent record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize entitlement record: %w", err)
	}

	env := envelope{
		Record:    data,
		Signature: c.sign(data),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize cache envelope: %w", err)
	}

	if err := c.store.Set(c.storageKey, string(payload)); err != nil {
		return fmt.Errorf("failed to persist entitlement record: %w", err)
	}

	c.logger.Debug("entitlement record persisted",
		slog.Bool("time_limited", rec.HasTimeLimit),
		slog.Int64("expire_time", rec.ExpireTime))
	return nil
}

// Clear deletes the persisted entry unconditionally
func (c *Cache) Clear() error {
	if err := c.store.Delete(c.storageKey); err != nil {
		return fmt.Errorf("failed to clear entitlement cache: %w", err)
	}
	return nil
}

func (c *Cache) sign(record []byte) string {
	h := hmac.New(sha256.New, c.signingKey)
	h.Write(record)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) verify(env envelope) bool {
	expected, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, c.signingKey)
	h.Write(env.Record)
	return hmac.Equal(h.Sum(nil), expected)
}

var errSignatureMismatch = errors.New("signature mismatch")

// discard logs and removes an unloadable cache entry. kind is one of the
// cache sentinels (ErrCacheCorrupt, ErrCacheExpired) and classifies the
// log line; the condition is recovered locally and never surfaced to the
// caller.
func (c *Cache) discard(kind, cause error, attrs ...any) {
	all := append([]any{slog.String("reason", kind.Error())}, attrs...)
	if cause != nil {
		all = append(all, slog.String("error", cause.Error()))
	}
	c.logger.Warn("discarding entitlement cache entry", all...)

	if err := c.store.Delete(c.storageKey); err != nil {
		c.logger.Warn("failed to delete discarded cache entry",
			slog.String("error", err.Error()))
	}
}
