package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/contact-pipeline/internal/model"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	captures map[string]model.Capture
	contacts map[string]model.Contact
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		captures: make(map[string]model.Capture),
		contacts: make(map[string]model.Contact),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) CreateCapture(_ context.Context, capture *model.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if capture.ID == "" {
		capture.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	capture.CreatedAt = now
	capture.UpdatedAt = now
	if capture.Status == "" {
		capture.Status = model.CaptureStatusQueued
	}
	s.captures[capture.ID] = *capture
	return nil
}

func (s *MemoryStore) GetCapture(_ context.Context, id string) (*model.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	capture, ok := s.captures[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &capture, nil
}

func (s *MemoryStore) PutCapture(_ context.Context, capture *model.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.captures[capture.ID]; !ok {
		return ErrNotFound
	}
	capture.UpdatedAt = time.Now().UTC()
	s.captures[capture.ID] = *capture
	return nil
}

func (s *MemoryStore) ListCaptures(_ context.Context, ownerID string, status model.CaptureStatus, limit int) ([]model.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Capture
	for _, c := range s.captures {
		if c.OwnerID != ownerID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateContact(_ context.Context, contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now
	s.contacts[contact.ID] = *contact
	return nil
}

func (s *MemoryStore) GetContact(_ context.Context, id string) (*model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &contact, nil
}

func (s *MemoryStore) PutContact(_ context.Context, contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[contact.ID]; !ok {
		return ErrNotFound
	}
	contact.UpdatedAt = time.Now().UTC()
	s.contacts[contact.ID] = *contact
	return nil
}
