package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hupe1980/ecp/blobstore"
)

// ErrInjected is returned by a RecordingStore for writes it is told to fail.
var ErrInjected = errors.New("testutil: injected write failure")

// RecordingStore wraps a BlobStore, records the names it is asked for and
// can fail puts after a number of successful ones, or every delete.
// It is thread-safe.
type RecordingStore struct {
	blobstore.BlobStore

	mu          sync.Mutex
	opened      []string
	lists       int
	puts        int
	failFrom    int
	failDeletes bool
}

// NewRecordingStore wraps inner. A nil inner selects a MemoryStore.
func NewRecordingStore(inner blobstore.BlobStore) *RecordingStore {
	if inner == nil {
		inner = blobstore.NewMemoryStore()
	}
	return &RecordingStore{BlobStore: inner, failFrom: -1}
}

// FailPutsAfter makes every put after the next n return ErrInjected.
// A negative n disables the failure.
func (s *RecordingStore) FailPutsAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		s.failFrom = -1
		return
	}
	s.failFrom = s.puts + n
}

// FailDeletes makes every delete return ErrInjected while fail is true.
func (s *RecordingStore) FailDeletes(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeletes = fail
}

// Reset clears the recorded opens and list calls.
func (s *RecordingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = nil
	s.lists = 0
}

// Opened returns the names opened since the last Reset, sorted.
func (s *RecordingStore) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.opened)
	slices.Sort(out)
	return out
}

// Lists returns the number of List calls since the last Reset.
func (s *RecordingStore) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func (s *RecordingStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	s.mu.Lock()
	s.opened = append(s.opened, name)
	s.mu.Unlock()
	return s.BlobStore.Open(ctx, name)
}

func (s *RecordingStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	if s.failFrom >= 0 && s.puts >= s.failFrom {
		s.mu.Unlock()
		return ErrInjected
	}
	s.puts++
	s.mu.Unlock()
	return s.BlobStore.Put(ctx, name, data)
}

func (s *RecordingStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	fail := s.failDeletes
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.BlobStore.Delete(ctx, name)
}

func (s *RecordingStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	return s.BlobStore.List(ctx, prefix)
}
