// Package userauth resolves bearer tokens to player identities. Token
// issuance lives behind the admin API; this package only checks.
package userauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrBadToken = errors.New("bad auth token")

// DB is the token lookup surface, implemented by the database package.
type DB interface {
	PlayerIDByTokenHash(ctx context.Context, hash string) (string, error)
}

// HashToken derives the stored form of a bearer token. Raw tokens never
// reach the database.
func HashToken(tok string) string {
	hash := sha256.Sum256([]byte(tok))
	return base64.StdEncoding.EncodeToString(hash[:])
}

type TokenCheckerOptions struct {
	CacheExpiryInterval time.Duration `toml:"cache-expiry-interval"`
}

func (o TokenCheckerOptions) Clone() TokenCheckerOptions {
	return o
}

func (o *TokenCheckerOptions) FillDefaults() {
	if o.CacheExpiryInterval == 0 {
		o.CacheExpiryInterval = 3 * time.Minute
	}
}

// TokenChecker caches successful token resolutions so that the hot
// websocket-upgrade path rarely touches the database. Lookups for the same
// hash are deduplicated.
type TokenChecker struct {
	o      TokenCheckerOptions
	db     DB
	cache  sync.Map
	group  singleflight.Group
	ctx    context.Context
	cancel func()
	done   chan struct{}
}

func NewTokenChecker(o TokenCheckerOptions, db DB) *TokenChecker {
	o.FillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	t := &TokenChecker{
		o:      o,
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

// Check resolves a raw bearer token to a player ID. Unknown tokens are
// reported as ErrBadToken without distinguishing why.
func (t *TokenChecker) Check(srcToken string) (string, error) {
	now := time.Now()
	hash := HashToken(srcToken)
	if v, ok := t.cache.Load(hash); ok {
		val := v.(*tokenCacheVal)
		if now.Before(val.deadline) {
			return val.playerID, nil
		}
		t.cache.CompareAndDelete(hash, v)
	}
	res, err, _ := t.group.Do(hash, func() (any, error) {
		playerID, err := t.db.PlayerIDByTokenHash(t.ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
		}
		return playerID, nil
	})
	if err != nil {
		return "", err
	}
	playerID := res.(string)
	t.cache.Store(hash, &tokenCacheVal{
		playerID: playerID,
		deadline: time.Now().Add(t.o.CacheExpiryInterval),
	})
	return playerID, nil
}

func (t *TokenChecker) Close() {
	t.cancel()
	<-t.done
}

func (t *TokenChecker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.o.CacheExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			t.cache.Range(func(k, v any) bool {
				val := v.(*tokenCacheVal)
				if now.After(val.deadline) {
					t.cache.CompareAndDelete(k, v)
				}
				return true
			})
		}
	}
}

type tokenCacheVal struct {
	playerID string
	deadline time.Time
}
