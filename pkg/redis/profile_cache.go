package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

// ProfileCache shares discovered merchant profiles across agent processes.
type ProfileCache struct {
	client *Client
	ttl    time.Duration
}

var _ ucp.ProfileCache = (*ProfileCache)(nil)

// NewProfileCache stores profiles as JSON; ttl <= 0 keeps them until deleted.
func NewProfileCache(client *Client, ttl time.Duration) *ProfileCache {
	if ttl < 0 {
		ttl = 0
	}
	return &ProfileCache{client: client, ttl: ttl}
}

func (p *ProfileCache) Get(ctx context.Context, merchantURL string) (*ucp.MerchantProfile, error) {
	data, err := p.client.Get(ctx, p.client.ProfileKey(merchantURL))
	if errors.Is(err, redis.Nil) {
		return nil, ucp.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get profile: %w", err)
	}

	var profile ucp.MerchantProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (p *ProfileCache) Set(ctx context.Context, merchantURL string, profile *ucp.MerchantProfile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := p.client.Set(ctx, p.client.ProfileKey(merchantURL), payload, p.ttl); err != nil {
		return fmt.Errorf("redis set profile: %w", err)
	}
	return nil
}

func (p *ProfileCache) Delete(ctx context.Context, merchantURL string) error {
	if err := p.client.Del(ctx, p.client.ProfileKey(merchantURL)); err != nil {
		return fmt.Errorf("redis delete profile: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *ProfileCache) Close() error {
	return p.client.Close()
}
