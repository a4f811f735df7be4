package delegation

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu          sync.RWMutex
	delegations map[string]*Delegation
	audits      map[string][]*AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		delegations: make(map[string]*Delegation),
		audits:      make(map[string][]*AuditEntry),
	}
}

func (s *MemoryStore) Save(_ context.Context, d *Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.delegations[d.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, d *Delegation) error {
	return s.Save(ctx, d)
}

func (s *MemoryStore) ListByWallet(_ context.Context, wallet string) ([]*Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Delegation
	for _, d := range s.delegations {
		if strings.EqualFold(d.WalletAddress, wallet) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Delegation, 0, len(s.delegations))
	for _, d := range s.delegations {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audits[entry.DelegationID] = append(s.audits[entry.DelegationID], &cp)
	return nil
}

func (s *MemoryStore) AuditHistory(_ context.Context, delegationID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.audits[delegationID]
	out := make([]*AuditEntry, len(history))
	for i, e := range history {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
