package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/winlogon/minechat/internal/data"
)

// ErrNotFound is returned by registry lookups when no usable entry exists.
// An expired-but-unswept link code is reported the same way as a missing one.
var ErrNotFound = errors.New("not found")

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// LinkCodeRegistry owns the set of outstanding one-time link codes. All
// operations are safe for concurrent use by any number of connections plus the
// persistence scheduler. The mutex also orders cache reads against removals so
// that a code can only ever be redeemed once.
type LinkCodeRegistry struct {
	store data.Store

	mu    sync.Mutex
	codes *gocache.Cache
	dirty bool
}

func NewLinkCodeRegistry(store data.Store) *LinkCodeRegistry {
	return &LinkCodeRegistry{
		store: store,
		// Expired entries are swept by the persistence scheduler rather than
		// a cache janitor so that removal and flushing stay coupled.
		codes: gocache.New(gocache.NoExpiration, 0),
	}
}

// Issue generates a new link code for the given Minecraft identity and stores
// it with the provided time to live. Code collisions overwrite the older
// unclaimed code.
func (r *LinkCodeRegistry) Issue(minecraftUUID, minecraftUsername string, ttl time.Duration) string {
	code := generateCode()
	link := data.LinkCode{
		Code:              code,
		MinecraftUUID:     minecraftUUID,
		MinecraftUsername: minecraftUsername,
		ExpiresAt:         time.Now().Add(ttl).UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes.Set(code, link, ttl)
	r.dirty = true
	return code
}

// Redeem looks up a code and, if it is present and unexpired, removes it and
// returns the identity it was issued for. Lookup and removal happen under one
// lock acquisition so concurrent redemptions of the same code cannot both
// succeed.
func (r *LinkCodeRegistry) Redeem(code string) (data.LinkCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.codes.Get(code)
	if !found {
		return data.LinkCode{}, ErrNotFound
	}

	link := v.(data.LinkCode)
	r.codes.Delete(code)
	r.dirty = true

	// The cache checks expiry with a strict comparison; a code is unusable
	// starting at its expiry instant, so re-check against ExpiresAt here.
	if link.ExpiresAt <= time.Now().UnixMilli() {
		return data.LinkCode{}, ErrNotFound
	}
	return link, nil
}

// SweepExpired removes every expired entry. Lookups enforce expiry themselves,
// so this exists to bound memory and keep the persisted file free of dead
// entries between redemptions.
func (r *LinkCodeRegistry) SweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.codes.ItemCount()
	r.codes.DeleteExpired()
	if r.codes.ItemCount() != before {
		r.dirty = true
	}
}

// Len returns the number of stored (possibly expired) codes.
func (r *LinkCodeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes.ItemCount()
}

// Persist flushes the current unexpired codes to the store. The write is
// skipped entirely when nothing has changed since the last successful flush.
func (r *LinkCodeRegistry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}

	now := time.Now().UnixMilli()
	codes := make([]data.LinkCode, 0, r.codes.ItemCount())
	for _, item := range r.codes.Items() {
		link := item.Object.(data.LinkCode)
		if link.ExpiresAt <= now {
			continue
		}
		codes = append(codes, link)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })

	if err := r.store.SaveLinkCodes(codes); err != nil {
		return fmt.Errorf("error persisting link codes: %w", err)
	}
	r.dirty = false
	return nil
}

// Restore replaces the registry contents with the stored set, dropping any
// entries that expired while the gateway was down.
func (r *LinkCodeRegistry) Restore() error {
	codes, err := r.store.LoadLinkCodes()
	if err != nil {
		return fmt.Errorf("error restoring link codes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.codes.Flush()
	now := time.Now().UnixMilli()
	for _, link := range codes {
		remaining := time.Duration(link.ExpiresAt-now) * time.Millisecond
		if remaining <= 0 {
			continue
		}
		r.codes.Set(link.Code, link, remaining)
	}
	r.dirty = false
	return nil
}

func generateCode() string {
	code := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic(fmt.Errorf("error generating link code: %w", err))
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code)
}
