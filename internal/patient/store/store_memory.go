// Package store persists local patient records.
//
// Two implementations share the same contract: InMemoryStore for tests and
// single-process deployments, PostgresStore when DATABASE_URL is set. Both
// enforce uniqueness of a non-empty third-party id and list newest first.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"patientsync/internal/patient/models"
	"patientsync/pkg/platform/sentinel"
)

var (
	ErrNotFound    = sentinel.ErrNotFound
	ErrAlreadyUsed = sentinel.ErrAlreadyUsed
)

// InMemoryStore keeps patients in a map guarded by a RWMutex. Records are
// copied in and out so callers never share state with the store.
type InMemoryStore struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]*models.LocalPatient
	byThirdParty map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients:     make(map[uuid.UUID]*models.LocalPatient),
		byThirdParty: make(map[string]uuid.UUID),
	}
}

// Create stores p. A zero ID is assigned a fresh UUID and zero timestamps are
// set to now.
func (s *InMemoryStore) Create(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
	if p == nil {
		return nil, errors.New("patient is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *p
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.patients[rec.ID]; exists {
		return nil, ErrAlreadyUsed
	}
	if rec.ThirdPartyID != "" {
		if _, taken := s.byThirdParty[rec.ThirdPartyID]; taken {
			return nil, ErrAlreadyUsed
		}
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	s.patients[rec.ID] = &rec
	if rec.ThirdPartyID != "" {
		s.byThirdParty[rec.ThirdPartyID] = rec.ID
	}
	out := rec
	return &out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.LocalPatient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *InMemoryStore) FindByThirdPartyID(_ context.Context, thirdPartyID string) (*models.LocalPatient, error) {
	if thirdPartyID == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byThirdParty[thirdPartyID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.patients[id]
	return &out, nil
}

// SetThirdPartyID links an existing record to a registry id.
func (s *InMemoryStore) SetThirdPartyID(_ context.Context, id uuid.UUID, thirdPartyID string) (*models.LocalPatient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	if owner, taken := s.byThirdParty[thirdPartyID]; taken && owner != id {
		return nil, ErrAlreadyUsed
	}
	if p.ThirdPartyID != "" {
		delete(s.byThirdParty, p.ThirdPartyID)
	}
	p.ThirdPartyID = thirdPartyID
	p.UpdatedAt = time.Now().UTC()
	if thirdPartyID != "" {
		s.byThirdParty[thirdPartyID] = id
	}
	out := *p
	return &out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return ErrNotFound
	}
	if p.ThirdPartyID != "" {
		delete(s.byThirdParty, p.ThirdPartyID)
	}
	delete(s.patients, id)
	return nil
}

// List returns every record, newest created_at first. Ties break on id so the
// order is stable.
func (s *InMemoryStore) List(_ context.Context) ([]*models.LocalPatient, error) {
	s.mu.RLock()
	out := make([]*models.LocalPatient, 0, len(s.patients))
	for _, p := range s.patients {
		rec := *p
		out = append(out, &rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Ping always succeeds; it lets health checks treat both stores alike.
func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}
