package model

import "time"

// RefValue is what a ref points at.
type RefValue struct {
	Hash   []byte
	Target Locator
}

// RefInfo is the metadata record of a ref. A zero ExpiresAt means the ref never expires,
// a zero Lifetime means reads never extend it.
type RefInfo struct {
	NamespaceID  string
	Name         string
	Hash         []byte
	Target       Locator
	TargetBlobID BlobID
	ExpiresAt    time.Time
	Lifetime     time.Duration
}

func (r *RefInfo) Value() RefValue {
	return RefValue{Hash: r.Hash, Target: r.Target}
}

func (r *RefInfo) HasExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// RequiresTouch reports whether the ref is within the last quarter of its lifetime and must be extended.
func (r *RefInfo) RequiresTouch(now time.Time) bool {
	if r.ExpiresAt.IsZero() || r.Lifetime <= 0 {
		return false
	}

	return !now.Before(r.ExpiresAt.Add(-r.Lifetime / 4))
}

// Clone returns a copy that can be modified without affecting r.
func (r *RefInfo) Clone() *RefInfo {
	c := *r
	c.Hash = append([]byte(nil), r.Hash...)

	return &c
}

// RefCacheTime is the maximum age of a cached ref a reader accepts. Zero bypasses the cache.
type RefCacheTime time.Duration

func (c RefCacheTime) IsStale(entryTime, now time.Time) bool {
	if c <= 0 {
		return true
	}

	return entryTime.Add(time.Duration(c)).Before(now)
}

type RefOptions struct {
	Lifetime time.Duration
	Extend   bool
}

type RefOption func(*RefOptions)

// WithLifetime makes the ref expire after d.
func WithLifetime(d time.Duration) RefOption {
	return func(o *RefOptions) {
		o.Lifetime = d
	}
}

// WithExtend controls whether reads near the expiry extend the ref by its lifetime. Defaults to true.
func WithExtend(extend bool) RefOption {
	return func(o *RefOptions) {
		o.Extend = extend
	}
}

func NewRefOptions(opts ...RefOption) *RefOptions {
	o := &RefOptions{Extend: true}
	for _, opt := range opts {
		opt(o)
	}

	return o
}
