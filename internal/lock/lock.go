// Package lock provides the keyed mutual-exclusion primitive used to
// serialize conflict-check-then-write sections per destination project.
//
// Every Locker is reentrant per context: calling WithLock for a key already
// held by an enclosing WithLock on the same context runs fn directly.
package lock

import (
	"context"
	"errors"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ErrNotAcquired reports that a lock could not be obtained before the wait
// deadline or that the lock backend was unreachable. It is transient; callers
// should retry the whole operation.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker runs fn while holding the lock identified by key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Func adapts a function to the Locker interface.
type Func func(ctx context.Context, key string, fn func(context.Context) error) error

// WithLock implements Locker.
func (f Func) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	return f(ctx, key, fn)
}

// DestinationKey derives the lock key for moves into the project with the
// given public identifier.
func DestinationKey(projectPUID string) string {
	return "sample-destination:" + strconv.FormatUint(xxhash.Sum64String(projectPUID), 16)
}

// ID maps a lock key onto the signed 64-bit space used by database advisory locks.
func ID(key string) int64 {
	return int64(xxhash.Sum64String(key)) //nolint:gosec // wraparound is intended
}

type heldKeysCtx struct{}

// Held reports whether ctx was produced by a WithLock call holding key.
func Held(ctx context.Context, key string) bool {
	keys, _ := ctx.Value(heldKeysCtx{}).(map[string]struct{})
	_, ok := keys[key]
	return ok
}

// MarkHeld returns a context recording that key is held. Locker
// implementations call it before invoking the critical section.
func MarkHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKeysCtx{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKeysCtx{}, next)
}
