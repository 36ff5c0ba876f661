package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the minimal key/value contract the cached store needs.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
	Del(key string) error
}

// RedisCache is a Cache backed by a redis server.
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisCache(addr string) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisCache{
		client: rdb,
		ctx:    context.Background(),
	}
}

func (r *RedisCache) Get(key string) (string, bool) {
	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(key string, value string) error {
	return r.client.Set(r.ctx, key, value, 0).Err()
}

func (r *RedisCache) Del(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

// CachedStore decorates a Storage with a read-through loan cache. Loan rows
// are the hot read of the API; schedules and repayments always go to the
// underlying store. Every write touching a loan drops its cache entry.
type CachedStore struct {
	inner Storage
	cache Cache
}

func NewCachedStore(inner Storage, cache Cache) *CachedStore {
	return &CachedStore{inner: inner, cache: cache}
}

func loanKey(id uuid.UUID) string {
	return "loan:" + id.String()
}

func (c *CachedStore) CreateLoan(loan *models.Loan, installments []*models.ScheduledInstallment) error {
	if err := c.inner.CreateLoan(loan, installments); err != nil {
		return err
	}
	c.cache.Del(loanKey(loan.ID))
	return nil
}

func (c *CachedStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	if cached, ok := c.cache.Get(loanKey(id)); ok {
		var loan models.Loan
		if err := json.Unmarshal([]byte(cached), &loan); err == nil {
			return &loan, nil
		}
		// Unreadable entry, fall through to the store.
		c.cache.Del(loanKey(id))
	}

	loan, err := c.inner.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(loan); err == nil {
		c.cache.Set(loanKey(id), string(encoded))
	}
	return loan, nil
}

func (c *CachedStore) GetAllLoans() ([]*models.Loan, error) {
	return c.inner.GetAllLoans()
}

func (c *CachedStore) GetInstallments(loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	return c.inner.GetInstallments(loanID)
}

func (c *CachedStore) CreateRepayment(repayment *models.ReceivedRepayment) error {
	return c.inner.CreateRepayment(repayment)
}

func (c *CachedStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	return c.inner.GetRepaymentsForLoan(loanID)
}

func (c *CachedStore) SaveReconciliation(loan *models.Loan, installments []*models.ScheduledInstallment, repayment *models.ReceivedRepayment) error {
	if err := c.inner.SaveReconciliation(loan, installments, repayment); err != nil {
		return err
	}
	c.cache.Del(loanKey(loan.ID))
	return nil
}

func (c *CachedStore) MarkInstallmentsOverdue(asOf time.Time) (int64, error) {
	return c.inner.MarkInstallmentsOverdue(asOf)
}

func (c *CachedStore) Close() error {
	return c.inner.Close()
}
