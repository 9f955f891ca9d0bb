// Package memstore is an in-memory implementation of dynamolock.BackingStore,
// used by this module's own test suite and useful to any caller who wants to
// exercise lock contention without a real DynamoDB table. It is not meant
// for production use: state lives only in process memory and is lost on
// restart, which is exactly what makes it useful for deterministic,
// adversarial-interleaving tests.
package memstore

import (
	"context"
	"sync"

	cerrors "github.com/cirello-io/errors"

	"github.com/alphagov/dynamolock"
)

type row struct {
	owner   string
	version uint64
	leaseMS uint64
	payload []byte
}

// Fault lets a test force a specific outcome on the next matching call to a
// given store method, to drive the adversarial interleavings described in
// the spec's testable properties (e.g. forcing a renewal's PutIfMatches to
// return a conflict to simulate another client's takeover landing first).
type Fault struct {
	Method string // "Get", "PutIfAbsent", "PutIfMatches", "DeleteIfMatches"
	Name   string // lock name to match; empty matches any name
	Err    error  // error to return instead of running the operation
}

// Store is a mutex-protected map of lock name to row, satisfying
// dynamolock.BackingStore.
type Store struct {
	mu     sync.Mutex
	rows   map[string]row
	faults []Fault
}

// New returns an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]row)}
}

// Inject arranges for the next call matching fault.Method (and fault.Name,
// if non-empty) to return fault.Err instead of touching the map. Faults are
// consumed in FIFO order and each one fires at most once.
func (s *Store) Inject(fault Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault)
}

func (s *Store) takeFault(method, name string) (error, bool) {
	for i, f := range s.faults {
		if f.Method != method {
			continue
		}
		if f.Name != "" && f.Name != name {
			continue
		}
		s.faults = append(s.faults[:i], s.faults[i+1:]...)
		return f.Err, true
	}
	return nil, false
}

// Get implements dynamolock.BackingStore.
func (s *Store) Get(_ context.Context, name string) (*dynamolock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.takeFault("Get", name); ok {
		return nil, err
	}
	r, ok := s.rows[name]
	if !ok {
		return nil, nil
	}
	return toItem(name, r), nil
}

// PutIfAbsent implements dynamolock.BackingStore.
func (s *Store) PutIfAbsent(_ context.Context, name, owner string, leaseMS uint64, payload []byte) (*dynamolock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.takeFault("PutIfAbsent", name); ok {
		return nil, err
	}
	if _, exists := s.rows[name]; exists {
		return nil, conflictErr(name)
	}
	r := row{owner: owner, version: 1, leaseMS: leaseMS, payload: clone(payload)}
	s.rows[name] = r
	return toItem(name, r), nil
}

// PutIfMatches implements dynamolock.BackingStore.
func (s *Store) PutIfMatches(_ context.Context, name, expectedOwner string, expectedVersion uint64, newOwner string, leaseMS uint64, payload []byte) (*dynamolock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.takeFault("PutIfMatches", name); ok {
		return nil, err
	}
	r, exists := s.rows[name]
	if !exists || r.owner != expectedOwner || r.version != expectedVersion {
		return nil, conflictErr(name)
	}
	r.owner = newOwner
	r.version++
	r.leaseMS = leaseMS
	r.payload = clone(payload)
	s.rows[name] = r
	return toItem(name, r), nil
}

// DeleteIfMatches implements dynamolock.BackingStore.
func (s *Store) DeleteIfMatches(_ context.Context, name, expectedOwner string, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.takeFault("DeleteIfMatches", name); ok {
		return err
	}
	r, exists := s.rows[name]
	if !exists || r.owner != expectedOwner || r.version != expectedVersion {
		return conflictErr(name)
	}
	delete(s.rows, name)
	return nil
}

func toItem(name string, r row) *dynamolock.Item {
	return &dynamolock.Item{
		Name:    name,
		Owner:   r.owner,
		Version: r.version,
		LeaseMS: r.leaseMS,
		Payload: clone(r.payload),
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func conflictErr(name string) error {
	return cerrors.E(cerrors.FailedPrecondition, "memstore: conditional write failed for "+name)
}
