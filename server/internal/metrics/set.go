package metrics

// Set is the fixed collection of counters updated by the server.
type Set struct {
	Stored               *Counter
	Fetched              *Counter
	FetchMisses          *Counter
	Renewed              *Counter
	Deleted              *Counter
	Expired              *Counter
	Claims               *Counter
	Collisions           *Counter
	ClaimsExhausted      *Counter
	Subscriptions        *Counter
	NotificationsDropped *Counter
}

// NewSet registers the server counters on r.
func NewSet(r *Registry) *Set {
	return &Set{
		Stored:               r.Counter("fileshare_entities_stored_total", "Entities populated by a store."),
		Fetched:              r.Counter("fileshare_fetches_total", "Fetches that returned content."),
		FetchMisses:          r.Counter("fileshare_fetch_misses_total", "Fetches of empty or expired entities."),
		Renewed:              r.Counter("fileshare_renewals_total", "Successful lifetime renewals."),
		Deleted:              r.Counter("fileshare_entities_deleted_total", "Explicit deletes."),
		Expired:              r.Counter("fileshare_entities_expired_total", "Entities purged because their TTL elapsed."),
		Claims:               r.Counter("fileshare_claims_total", "Slot ids successfully claimed."),
		Collisions:           r.Counter("fileshare_claim_collisions_total", "Claim candidates found live or reserved."),
		ClaimsExhausted:      r.Counter("fileshare_claims_exhausted_total", "Claims that ran out of attempts."),
		Subscriptions:        r.Counter("fileshare_subscriptions_total", "Observers accepted by subscribe."),
		NotificationsDropped: r.Counter("fileshare_notifications_dropped_total", "Observer sends that failed and pruned the observer."),
	}
}
