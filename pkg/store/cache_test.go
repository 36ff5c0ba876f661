package store

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
)

// mockCache is an in-memory Cache for testing the decorator without redis.
type mockCache struct {
	data map[string]string
	hits int
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]string)}
}

func (m *mockCache) Get(key string) (string, bool) {
	val, ok := m.data[key]
	if ok {
		m.hits++
	}
	return val, ok
}

func (m *mockCache) Set(key string, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockCache) Del(key string) error {
	delete(m.data, key)
	return nil
}

func TestCachedStore_ReadThrough(t *testing.T) {
	dbFile := "test_cache.db"
	inner := newTestStore(t, dbFile)
	defer os.Remove(dbFile)
	defer inner.Close()

	cache := newMockCache()
	s := NewCachedStore(inner, cache)

	loan, installments := testLoan(1000, 2)
	if err := s.CreateLoan(loan, installments); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	// First read fills the cache, second is served from it.
	if _, err := s.GetLoan(loan.ID); err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if len(cache.data) != 1 {
		t.Errorf("Expected 1 cached entry, got %d", len(cache.data))
	}
	fetched, err := s.GetLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get cached loan: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", cache.hits)
	}
	if fetched.ID != loan.ID || fetched.Outstanding != 1000 {
		t.Errorf("Cached loan mismatch: %s/%d", fetched.ID, fetched.Outstanding)
	}
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	dbFile := "test_cache_inv.db"
	inner := newTestStore(t, dbFile)
	defer os.Remove(dbFile)
	defer inner.Close()

	cache := newMockCache()
	s := NewCachedStore(inner, cache)

	loan, installments := testLoan(1000, 2)
	if err := s.CreateLoan(loan, installments); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	if _, err := s.GetLoan(loan.ID); err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	installments[0].Outstanding = 0
	installments[0].Status = models.InstallmentStatusRepaid
	loan.Outstanding = 500
	rep := &models.ReceivedRepayment{
		ID:           uuid.New(),
		LoanID:       loan.ID,
		Amount:       500,
		CurrencyCode: "USD",
		ReceivedDate: installments[0].DueDate,
	}
	if err := s.SaveReconciliation(loan, installments[:1], rep); err != nil {
		t.Fatalf("Failed to save reconciliation: %v", err)
	}
	if len(cache.data) != 0 {
		t.Errorf("Expected cache invalidated, got %d entries", len(cache.data))
	}

	// The next read sees the new state, not a stale entry.
	fetched, _ := s.GetLoan(loan.ID)
	if fetched.Outstanding != 500 {
		t.Errorf("Expected outstanding 500 after invalidation, got %d", fetched.Outstanding)
	}
}
