// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
)

// Store is an in-process implementation of storage.Store. It applies the
// same conditional-write rules as the database store and is used by tests
// and dry runs.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*position.Position
	owners    map[string]position.OwnerSettings
	sales     map[string][]storage.Sale
}

func New() *Store {
	return &Store{
		positions: make(map[string]*position.Position),
		owners:    make(map[string]position.OwnerSettings),
		sales:     make(map[string][]storage.Sale),
	}
}

// Put inserts or replaces a position unconditionally.
func (s *Store) Put(p *position.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p.Clone()
}

// PutOwner stores owner settings.
func (s *Store) PutOwner(settings position.OwnerSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[settings.OwnerID] = settings
}

// Get returns a position regardless of status.
func (s *Store) Get(id string) (*position.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ForceClose closes a position the way an operator would from outside.
func (s *Store) ForceClose(id string, status position.Status, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || !p.Status.IsOpen() {
		return false
	}
	p.Status = status
	p.ExitReason = reason
	return true
}

func (s *Store) GetOpen(_ context.Context, id string) (*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok || !p.Status.IsOpen() {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) ListOpen(_ context.Context, page storage.Page) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*position.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status.IsOpen() && after(p, page.After) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *Store) UpdatePrice(_ context.Context, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.openLocked(p.ID)
	if err != nil {
		return err
	}
	cur.CurrentPrice = p.CurrentPrice
	cur.HighPriceSeen = p.HighPriceSeen
	cur.LowPriceSeen = p.LowPriceSeen
	cur.PnLPercent = p.PnLPercent
	return nil
}

func (s *Store) ApplyPartialSell(_ context.Context, p *position.Position, sale storage.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.openLocked(p.ID); err != nil {
		return err
	}
	s.positions[p.ID] = p.Clone()
	s.sales[p.ID] = append(s.sales[p.ID], sale)
	return nil
}

func (s *Store) ClosePosition(_ context.Context, p *position.Position, sale *storage.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.openLocked(p.ID); err != nil {
		return err
	}
	s.positions[p.ID] = p.Clone()
	if sale != nil {
		s.sales[p.ID] = append(s.sales[p.ID], *sale)
	}
	return nil
}

func (s *Store) GetOwnerConfigs(_ context.Context, ownerIDs []string) (map[string]position.OwnerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]position.OwnerConfig, len(ownerIDs))
	for _, id := range ownerIDs {
		if settings, ok := s.owners[id]; ok {
			out[id] = position.ApplyDefaults(settings)
		}
	}
	return out, nil
}

func (s *Store) ListSales(_ context.Context, positionID string) ([]storage.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Sale(nil), s.sales[positionID]...), nil
}

func (s *Store) Close() error { return nil }

// after reports whether p sorts strictly after c.
func after(p *position.Position, c *storage.Cursor) bool {
	if c == nil {
		return true
	}
	if p.OpenedAt.Equal(c.OpenedAt) {
		return p.ID > c.ID
	}
	return p.OpenedAt.After(c.OpenedAt)
}

// openLocked returns the stored position if it is still open.
func (s *Store) openLocked(id string) (*position.Position, error) {
	cur, ok := s.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !cur.Status.IsOpen() {
		return nil, storage.ErrConflict
	}
	return cur, nil
}

var _ storage.Store = (*Store)(nil)
