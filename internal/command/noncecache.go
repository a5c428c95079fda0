package command

import (
	"github.com/karlseguin/ccache/v2"

	"github.com/tamsilcms/agent/pkg/models"
)

// NonceCache is the bounded, TTL'd replay cache of spec.md §4.3: "at
// least 10,000 entries, at least 24h TTL". Built on
// github.com/karlseguin/ccache/v2, the same LRU cache library the
// retrieval pack's bottlerocket-os-bottlerocket/extras/dogswatch
// already depends on for bounded recency caches.
type NonceCache struct {
	cache *ccache.Cache
	ttl   int64 // seconds, stored for test introspection only
}

// NewNonceCache builds a cache sized per models.DefaultNonceCapacity.
func NewNonceCache() *NonceCache {
	return &NonceCache{
		cache: ccache.New(ccache.Configure().MaxSize(models.DefaultNonceCapacity)),
		ttl:   int64(models.DefaultNonceTTL.Seconds()),
	}
}

func key(assetID, nonce string) string {
	return assetID + "/" + nonce
}

// SeenBefore reports whether (assetID, nonce) was already recorded,
// and records it unconditionally so the very next call for the same
// pair reports true. The check-then-record is not atomic across two
// cache operations, but within one Channel the nonce cache is only
// ever touched from the single goroutine driving poll validation, so
// no race is possible there.
func (n *NonceCache) SeenBefore(assetID, nonce string) bool {
	k := key(assetID, nonce)
	item := n.cache.Get(k)
	seen := item != nil && !item.Expired()
	n.cache.Set(k, true, models.DefaultNonceTTL)
	return seen
}
