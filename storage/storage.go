package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"
)

// ErrUnavailable is returned when the durable backend cannot be reached.
// Callers treat it as transient and retryable with backoff.
var ErrUnavailable = errors.New("storage backend unavailable")

// Entry is a key/value pair stored in a backend.
type Entry struct {
	Key   string
	Value []byte
}

// Backend is an ordered key/value store. Keys use "/" as the path separator.
// List returns the direct children of a prefix: plain keys for leaves and
// keys with a trailing "/" for nested folders.
type Backend interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Closer is implemented by backends holding external connections.
type Closer interface {
	Close() error
}

// PermitPool bounds the number of in-flight operations against a backend.
type PermitPool struct {
	sem *semaphore.Weighted
}

// NewPermitPool returns a pool allowing up to permits concurrent operations.
func NewPermitPool(permits int) *PermitPool {
	if permits < 1 {
		permits = 64
	}
	return &PermitPool{sem: semaphore.NewWeighted(int64(permits))}
}

func (p *PermitPool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *PermitPool) Release() {
	p.sem.Release(1)
}

const LockCount = 256

// LockEntry is one stripe of a lock set.
type LockEntry struct {
	sync.RWMutex
}

// CreateLocks returns a fixed array of lock stripes. Callers must either use
// a single stripe per operation or iterate the whole slice in order.
func CreateLocks() []*LockEntry {
	ret := make([]*LockEntry, LockCount)
	for i := range ret {
		ret[i] = new(LockEntry)
	}
	return ret
}

// LockForKey returns the stripe guarding the given key.
func LockForKey(locks []*LockEntry, key string) *LockEntry {
	sum := blake2b.Sum256([]byte(key))
	return locks[sum[0]]
}

// SplitKey splits a storage key into its folder path and leaf name. The path
// always carries a trailing "/" so prefix queries stay unambiguous.
func SplitKey(key string) (path string, leaf string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "/", key
	}
	return key[:idx+1], key[idx+1:]
}
