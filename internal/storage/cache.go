package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"propcopy/internal/models"
)

const defaultCacheTTL = 30 * time.Second

// NewRedisClient подключается к Redis и проверяет соединение
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return rdb, nil
}

// CachedStore кеширует горячие чтения движка (счета и группы) в Redis.
// Любая ошибка Redis приводит к чтению из БД. Учетные данные в кеше остаются зашифрованными.
type CachedStore struct {
	*Store
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore оборачивает Store кешем. ttl <= 0 означает значение по умолчанию.
func NewCachedStore(store *Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &CachedStore{
		Store:  store,
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedAccount struct {
	models.Account
	SealedCredentials string `json:"sealed_credentials,omitempty"`
}

func accountKey(id string) string     { return fmt.Sprintf("account:%s", id) }
func groupKey(masterID string) string { return fmt.Sprintf("group:master:%s", masterID) }

// FindAccount читает счёт из кеша, при промахе из БД
func (c *CachedStore) FindAccount(ctx context.Context, id string) (models.Account, error) {
	key := accountKey(id)

	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var entry cachedAccount
		if err := json.Unmarshal(data, &entry); err == nil {
			acc := entry.Account
			if acc.Credentials, err = c.openCredentials(entry.SealedCredentials); err == nil {
				return acc, nil
			}
		}
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("⚠️  Cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	acc, err := c.Store.FindAccount(ctx, id)
	if err != nil {
		return models.Account{}, err
	}

	sealed, err := c.sealCredentials(acc.Credentials)
	if err != nil {
		return acc, nil
	}

	if data, err := json.Marshal(cachedAccount{Account: acc, SealedCredentials: sealed}); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}

	return acc, nil
}

// FindGroupByMaster читает группу мастера из кеша, при промахе из БД
func (c *CachedStore) FindGroupByMaster(ctx context.Context, masterAccountID string) (models.CopyGroup, error) {
	key := groupKey(masterAccountID)

	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var g models.CopyGroup
		if err := json.Unmarshal(data, &g); err == nil {
			return g, nil
		}
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("⚠️  Cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	g, err := c.Store.FindGroupByMaster(ctx, masterAccountID)
	if err != nil {
		return models.CopyGroup{}, err
	}

	if data, err := json.Marshal(g); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}

	return g, nil
}

// UpdateAccountBalance обновляет баланс и сбрасывает кеш счёта
func (c *CachedStore) UpdateAccountBalance(ctx context.Context, id string, balance, equity float64) error {
	err := c.Store.UpdateAccountBalance(ctx, id, balance, equity)
	c.redis.Del(ctx, accountKey(id))
	return err
}

// SetAccountActive меняет статус счёта и сбрасывает кеш
func (c *CachedStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	err := c.Store.SetAccountActive(ctx, id, active)
	c.redis.Del(ctx, accountKey(id))
	return err
}

// CreateGroup создает группу; мастер-счёт меняет флаг is_master
func (c *CachedStore) CreateGroup(ctx context.Context, g models.CopyGroup) (models.CopyGroup, error) {
	created, err := c.Store.CreateGroup(ctx, g)
	c.redis.Del(ctx, accountKey(g.MasterAccountID), groupKey(g.MasterAccountID))
	return created, err
}

// AddSlave добавляет подписчика и сбрасывает кеш группы
func (c *CachedStore) AddSlave(ctx context.Context, slave models.Slave) (models.Slave, error) {
	added, err := c.Store.AddSlave(ctx, slave)
	c.invalidateGroup(ctx, slave.GroupID)
	return added, err
}

// SetSlaveActive меняет флаг подписчика и сбрасывает кеш группы
func (c *CachedStore) SetSlaveActive(ctx context.Context, groupID, accountID string, active bool) error {
	err := c.Store.SetSlaveActive(ctx, groupID, accountID, active)
	c.invalidateGroup(ctx, groupID)
	return err
}

// SetGroupActive меняет статус группы и сбрасывает кеш
func (c *CachedStore) SetGroupActive(ctx context.Context, groupID string, active bool) error {
	err := c.Store.SetGroupActive(ctx, groupID, active)
	c.invalidateGroup(ctx, groupID)
	return err
}

func (c *CachedStore) invalidateGroup(ctx context.Context, groupID string) {
	master, err := c.groupMaster(ctx, groupID)
	if err != nil {
		return
	}

	if err := c.redis.Del(ctx, groupKey(master)).Err(); err != nil {
		c.logger.Warn("⚠️  Cache invalidation failed", slog.String("group", groupID), slog.Any("error", err))
	}
}

// Close закрывает Redis и БД
func (c *CachedStore) Close() error {
	c.redis.Close()
	return c.Store.Close()
}
