// Package idempotency caches HTTP responses by client-supplied idempotency
// key, so an admin endpoint retried after a timeout replays the original
// response instead of re-running a state-mutating action, mirroring the
// teacher's idempotency.Store / withIdempotency wrapper.
package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Backend is satisfied by coordination.Coordinator's lock primitives
// repurposed as a plain key-value cache is unnecessary here; instead this
// is a thin interface any Redis-backed get/set pair can implement.
type Backend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type Store struct {
	backend Backend
	cache   sync.Map // fallback when backend is nil, e.g. in tests
}

type entry struct {
	Resp      Response
	Timestamp time.Time
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.backend != nil {
		val, err := s.backend.Get(ctx, key)
		if err != nil {
			log.Printf("[IDEMPOTENCY] backend error getting %s: %v", key, err)
			return Response{}, false
		}
		if val == "" {
			return Response{}, false
		}
		var e entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return Response{}, false
		}
		return e.Resp, true
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.Timestamp) > time.Hour {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.Resp, true
}

func (s *Store) Set(ctx context.Context, key string, resp Response) {
	e := entry{Resp: resp, Timestamp: time.Now()}

	if s.backend != nil {
		bytes, err := json.Marshal(e)
		if err != nil {
			log.Printf("[IDEMPOTENCY] marshal error for %s: %v", key, err)
			return
		}
		if err := s.backend.Set(ctx, key, string(bytes), 24*time.Hour); err != nil {
			log.Printf("[IDEMPOTENCY] backend error setting %s: %v", key, err)
		}
		return
	}

	s.cache.Store(key, e)
}
