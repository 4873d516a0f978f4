package cache

import (
	"context"
	"log/slog"
)

// ComputeFunc produces the payload for a fingerprint on a cache miss.
type ComputeFunc func(ctx context.Context) (Payload, error)

// Resolver puts duplicate suppression in front of a Store: concurrent
// misses for the same fingerprint run compute once, the others wait and then
// read the stored result. Suppression is per process unless the store is a
// FillLocker, in which case it also holds across instances sharing it.
type Resolver struct {
	store Store
	locks *KeyedMutex
}

// NewResolver wraps store. A nil store disables caching.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, locks: NewKeyedMutex()}
}

// Store returns the underlying store, or nil.
func (r *Resolver) Store() Store { return r.store }

// Resolve returns the payload for fp and whether it came from the cache.
// Backend failures degrade to a miss; only compute errors are returned.
func (r *Resolver) Resolve(ctx context.Context, fp string, compute ComputeFunc) (Payload, bool, error) {
	if r.store == nil {
		p, err := compute(ctx)
		return p, false, err
	}

	if e, ok := r.lookup(ctx, fp); ok {
		return e.Payload, true, nil
	}

	unlock, err := r.locks.Lock(ctx, fp)
	if err != nil {
		return Payload{}, false, err
	}
	defer unlock()

	// Another worker may have filled the entry while we waited.
	if e, ok := r.lookup(ctx, fp); ok {
		return e.Payload, true, nil
	}

	if fl, ok := r.store.(FillLocker); ok {
		release, err := fl.LockFill(ctx, fp)
		switch {
		case err == nil:
			defer release()
			if e, ok := r.lookup(ctx, fp); ok {
				return e.Payload, true, nil
			}
		case ctx.Err() != nil:
			return Payload{}, false, ctx.Err()
		default:
			slog.Warn("cache fill lock failed, computing without it", "fingerprint", fp, "error", err)
		}
	}

	p, err := compute(ctx)
	if err != nil {
		return Payload{}, false, err
	}

	if err := r.store.Put(ctx, fp, p); err != nil {
		slog.Warn("cache store failed", "fingerprint", fp, "error", err)
	}
	return p, false, nil
}

func (r *Resolver) lookup(ctx context.Context, fp string) (*Entry, bool) {
	e, ok, err := r.store.Lookup(ctx, fp)
	if err != nil {
		slog.Warn("cache lookup failed, treating as miss", "fingerprint", fp, "error", err)
		return nil, false
	}
	return e, ok
}
