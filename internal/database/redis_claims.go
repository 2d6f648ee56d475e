// Package database also provides the Redis-backed per-position claim used
// to enforce single-writer discipline on position transitions. When Redis
// is unavailable, claims fall back to an in-process mutex table so a
// single-instance deployment keeps running without interruption.
package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ClaimKeyPrefix is the prefix for position claim keys
	// Format: pipeline:claim:position:{positionID}
	ClaimKeyPrefix = "pipeline:claim:position"

	// ClaimTTL bounds how long a crashed owner can hold a claim
	ClaimTTL = 30 * time.Second
)

// PositionClaims hands out exclusive short-lived claims on position IDs.
// A claim must be held across a close or settle attempt and released after.
type PositionClaims struct {
	client         *redis.Client
	owner          string
	localClaims    map[int64]string
	localMu        sync.Mutex
	redisAvailable atomic.Bool
}

// NewPositionClaims creates the claim registry. If client is nil, claims
// are purely in-process.
func NewPositionClaims(client *redis.Client, owner string) *PositionClaims {
	claims := &PositionClaims{
		client:      client,
		owner:       owner,
		localClaims: make(map[int64]string),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[POSITION-CLAIMS] Redis unavailable at startup: %v, using in-process claims", err)
			claims.redisAvailable.Store(false)
		} else {
			log.Printf("[POSITION-CLAIMS] Redis connected successfully")
			claims.redisAvailable.Store(true)
		}
	} else {
		log.Printf("[POSITION-CLAIMS] No Redis client provided, using in-process claims only")
		claims.redisAvailable.Store(false)
	}

	return claims
}

func (c *PositionClaims) key(positionID int64) string {
	return fmt.Sprintf("%s:%d", ClaimKeyPrefix, positionID)
}

// TryAcquire attempts to claim a position. Returns true when this caller
// now owns the position and may transition it.
func (c *PositionClaims) TryAcquire(ctx context.Context, positionID int64) (bool, error) {
	if c.client != nil && c.redisAvailable.Load() {
		ok, err := c.client.SetNX(ctx, c.key(positionID), c.owner, ClaimTTL).Result()
		if err != nil {
			// Degrade to in-process claims until Redis recovers
			log.Printf("[POSITION-CLAIMS] Redis error on acquire, degrading to in-process: %v", err)
			c.redisAvailable.Store(false)
		} else {
			return ok, nil
		}
	}

	c.localMu.Lock()
	defer c.localMu.Unlock()
	if _, held := c.localClaims[positionID]; held {
		return false, nil
	}
	c.localClaims[positionID] = c.owner
	return true, nil
}

// Release gives up a claim. Safe to call for claims that were never held.
func (c *PositionClaims) Release(ctx context.Context, positionID int64) {
	if c.client != nil && c.redisAvailable.Load() {
		if err := c.client.Del(ctx, c.key(positionID)).Err(); err != nil {
			log.Printf("[POSITION-CLAIMS] Redis error on release for position %d: %v", positionID, err)
		}
	}

	c.localMu.Lock()
	delete(c.localClaims, positionID)
	c.localMu.Unlock()
}

// Reconnect re-checks Redis availability. Called periodically by owners
// that noticed degradation.
func (c *PositionClaims) Reconnect(ctx context.Context) {
	if c.client == nil || c.redisAvailable.Load() {
		return
	}
	if err := c.client.Ping(ctx).Err(); err == nil {
		log.Printf("[POSITION-CLAIMS] Redis recovered, resuming shared claims")
		c.redisAvailable.Store(true)
	}
}
