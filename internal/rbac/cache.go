package rbac

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PermissionCache keeps recently resolved effective permission sets in Redis.
// It is purely advisory: any cache failure is treated as a miss so that the
// authoritative lookup still runs against PostgreSQL.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache constructs a PermissionCache.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	return &PermissionCache{client: client, ttl: ttl}
}

// Get returns the cached permission set for userID, if present.
func (c *PermissionCache) Get(ctx context.Context, userID int64) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(data, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// Set stores the permission set for userID, best effort.
func (c *PermissionCache) Set(ctx context.Context, userID int64, perms []string) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(userID), data, c.ttl).Err()
}

// Invalidate drops the cached set for userID.
func (c *PermissionCache) Invalidate(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(userID)).Err()
}

func (c *PermissionCache) key(userID int64) string {
	return "authz:perms:" + strconv.FormatInt(userID, 10)
}
