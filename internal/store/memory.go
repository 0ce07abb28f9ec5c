package store

import (
	"context"
	"sort"
	"sync"

	"github.com/spotsave/spotsave/internal/models"
)

// MemoryStore is the mutex-guarded in-memory Store used by the CLI and in
// tests. Values are copied on the way in and out so callers can never
// mutate stored state through retained slices.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[string]models.Account
	scans         map[string]models.ScanSession
	opportunities map[string][]models.Opportunity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]models.Account),
		scans:         make(map[string]models.ScanSession),
		opportunities: make(map[string][]models.Opportunity),
	}
}

func (m *MemoryStore) PutAccount(_ context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) BeginScan(_ context.Context, session models.ScanSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[session.ID] = session
	return nil
}

func (m *MemoryStore) AppendOpportunities(_ context.Context, scanID string, batch []models.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scanID]; !ok {
		return models.ErrScanNotFound
	}
	m.opportunities[scanID] = append(m.opportunities[scanID], batch...)
	return nil
}

func (m *MemoryStore) ReplaceOpportunities(_ context.Context, scanID string, opportunities []models.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scanID]; !ok {
		return models.ErrScanNotFound
	}
	replacement := make([]models.Opportunity, len(opportunities))
	copy(replacement, opportunities)
	m.opportunities[scanID] = replacement
	return nil
}

func (m *MemoryStore) FinalizeScan(_ context.Context, session models.ScanSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.scans[session.ID]
	if !ok {
		return models.ErrScanNotFound
	}
	// First terminal write wins; a retried finalize after a partially
	// applied one must not flip the recorded outcome.
	if existing.State.Terminal() {
		return nil
	}
	m.scans[session.ID] = session
	return nil
}

func (m *MemoryStore) GetScan(_ context.Context, scanID string) (models.ScanSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.scans[scanID]
	if !ok {
		return models.ScanSession{}, models.ErrScanNotFound
	}
	return session, nil
}

func (m *MemoryStore) ListOpportunities(_ context.Context, scanID string) ([]models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.scans[scanID]; !ok {
		return nil, models.ErrScanNotFound
	}
	stored := m.opportunities[scanID]
	out := make([]models.Opportunity, len(stored))
	copy(out, stored)
	return out, nil
}
