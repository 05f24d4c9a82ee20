package session

import "time"

// DefaultMaxLifetime mirrors the usual host default of 1440 seconds
const DefaultMaxLifetime = 1440 * time.Second

// Record represents one session's persisted state
type Record struct {
	// ID is the opaque session identifier handed out by the host. Exactly one
	// record exists per ID in a backend at any time.
	ID string

	// Data is the serialized session payload. Backends never inspect it and
	// must return it bit-exact.
	Data string

	// CreatedAt is set once, when the record is first persisted
	CreatedAt time.Time

	// ModifiedAt is set on every update after creation and is nil until then
	ModifiedAt *time.Time
}

// EffectiveTime returns the timestamp a record's age is measured from:
// ModifiedAt if the record was ever updated, CreatedAt otherwise.
func (r Record) EffectiveTime() time.Time {
	if r.ModifiedAt != nil {
		return *r.ModifiedAt
	}

	return r.CreatedAt
}

// Alive reports whether the record is still within maxLifetime at now
func (r Record) Alive(maxLifetime time.Duration, now time.Time) bool {
	return !Expired(r.EffectiveTime(), maxLifetime, now)
}

// Cutoff returns the oldest effective time a live record can have
func Cutoff(now time.Time, maxLifetime time.Duration) time.Time {
	if maxLifetime < 0 {
		maxLifetime = 0
	}

	return now.Add(-maxLifetime)
}

// Expired reports whether a record last touched at t has outlived maxLifetime.
// A record exactly maxLifetime old is still alive.
func Expired(t time.Time, maxLifetime time.Duration, now time.Time) bool {
	return t.Before(Cutoff(now, maxLifetime))
}
