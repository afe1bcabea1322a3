// Copyright 2024-2026 Aiku AI

package gateway

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// joinCache holds join presences awaiting remote room resolution, keyed
// by stanza id. Entries expire after the configured TTL so a resolution
// that never arrives does not leak the request.
//
// A second join request from the same full JID to the same chat while
// one is pending replaces the cached one; the prior correlation id is
// discarded and its completion will fail with ErrJoinNotCached. Pending
// joins to different chats coexist.
type joinCache struct {
	// opMu serializes Put and Take against each other. It is never held
	// across store calls that fire the eviction hook.
	opMu  sync.Mutex
	store *cache.Cache

	// mu guards byRequester; the eviction hook takes it.
	mu          sync.Mutex
	byRequester map[string]string
}

// requesterKey identifies one pending join slot: a device may hold one
// pending join per chat.
func requesterKey(p *xmpp.Presence) string {
	return p.From.String() + "\x00" + p.ChatName()
}

func newJoinCache(ttl time.Duration) *joinCache {
	jc := &joinCache{
		store:       cache.New(ttl, ttl),
		byRequester: make(map[string]string),
	}
	jc.store.OnEvicted(func(id string, v any) {
		p := v.(*xmpp.Presence)
		jc.mu.Lock()
		defer jc.mu.Unlock()
		if jc.byRequester[requesterKey(p)] == id {
			delete(jc.byRequester, requesterKey(p))
		}
	})
	return jc
}

// Put caches a join request under its stanza id.
func (jc *joinCache) Put(p *xmpp.Presence) {
	jc.opMu.Lock()
	defer jc.opMu.Unlock()
	key := requesterKey(p)
	jc.mu.Lock()
	prev, replaced := jc.byRequester[key]
	jc.byRequester[key] = p.ID
	jc.mu.Unlock()
	if replaced && prev != p.ID {
		// The eviction hook sees the updated mapping and leaves it.
		jc.store.Delete(prev)
	}
	jc.store.Set(p.ID, p, cache.DefaultExpiration)
}

// Take removes and returns the cached request. The removal is
// unconditional: a second Take for the same id finds nothing.
func (jc *joinCache) Take(joinID string) (*xmpp.Presence, bool) {
	jc.opMu.Lock()
	defer jc.opMu.Unlock()
	v, ok := jc.store.Get(joinID)
	if !ok {
		return nil, false
	}
	// The eviction hook clears the requester mapping.
	jc.store.Delete(joinID)
	return v.(*xmpp.Presence), true
}
