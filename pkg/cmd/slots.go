package cmd

import (
	"context"
	"fmt"

	"github.com/kestrelflow/kestrel/pkg/admission"
)

// NewSlotStore returns the Redis-backed slot store when an address is
// configured and the in-memory one otherwise. Executors running more than
// one replica must share slots through Redis.
func NewSlotStore(ctx context.Context, redisAddr, redisPassword string, redisDB int) admission.SlotStore {
	if redisAddr == "" {
		return admission.NewMemorySlotStore()
	}

	client, err := admission.NewRedisClient(ctx, redisAddr, redisPassword, redisDB)
	if err != nil {
		panic(fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return admission.NewRedisSlotStore(client)
}
