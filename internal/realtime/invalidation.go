package realtime

// CacheKey names a client-side query result. Keys are the REST collection
// paths the result was fetched from, so a client can refetch a stale key by
// GETting it.
type CacheKey string

const (
	KeyUsers           CacheKey = "/api/users"
	KeyArticles        CacheKey = "/api/articles"
	KeyOrderLines      CacheKey = "/api/order-lines"
	KeyInventoryCounts CacheKey = "/api/inventory-counts"
)

// AllKeys lists every cache key a client may hold.
var AllKeys = []CacheKey{KeyUsers, KeyArticles, KeyOrderLines, KeyInventoryCounts}

// KeysFor returns the query keys made stale by a change to resource. This is
// the only place cross-resource dependencies live:
//   - article totals are derived from inventory counts
//   - deleting an article cascades to its counts
//   - order line views join article descriptions
//   - counts and order lines reference users, and deleting a user clears
//     those references
func KeysFor(resource Resource) []CacheKey {
	switch resource {
	case ResourceUser:
		return []CacheKey{KeyUsers, KeyInventoryCounts, KeyOrderLines}
	case ResourceArticle:
		return []CacheKey{KeyArticles, KeyInventoryCounts, KeyOrderLines}
	case ResourceOrderLine:
		return []CacheKey{KeyOrderLines}
	case ResourceInventoryCount:
		return []CacheKey{KeyInventoryCounts, KeyArticles}
	default:
		return nil
	}
}

// KeysForEvent returns the keys to invalidate on receipt of ev. A data_cleared
// event wipes warehouse data but not accounts.
func KeysForEvent(ev Event) []CacheKey {
	if ev.Kind() == KindCleared {
		return []CacheKey{KeyArticles, KeyOrderLines, KeyInventoryCounts}
	}
	return KeysFor(ev.Resource())
}
