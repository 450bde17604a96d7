package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucketPerSource(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.AllowSource(ctx, "legacy-hr")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.AllowSource(ctx, "legacy-hr")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.AllowSource(ctx, "legacy-hr")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are keyed per source system: another source is unaffected.
	allowed, _, _ = bucket.AllowSource(ctx, "legacy-finance")
	if !allowed {
		t.Fatalf("expected separate source system to have its own bucket")
	}

	// The bucket key carries the engine prefix so a shared Redis stays legible.
	if keys := mr.Keys(); len(keys) != 2 {
		t.Fatalf("expected 2 bucket keys got %v", keys)
	} else {
		for _, k := range keys {
			if len(k) <= len(sourceKeyPrefix) || k[:len(sourceKeyPrefix)] != sourceKeyPrefix {
				t.Fatalf("bucket key %q lacks the source prefix", k)
			}
		}
	}

	// Note: Cannot test refill with miniredis.FastForward() because the Lua script
	// receives time from Go's time.Now(), not Redis's internal clock.
}
