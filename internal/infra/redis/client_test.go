package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKeyPrefix(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "conductor:")
	defer c.Close()

	if got := c.key("pool:USDCx-STX"); got != "conductor:pool:USDCx-STX" {
		t.Fatalf("key = %q", got)
	}
	if got := c.lockKey("process-queue"); got != "conductor:lock:process-queue" {
		t.Fatalf("lockKey = %q", got)
	}
}

func TestUnreachableServerReturnsError(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), "")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected ping error")
	}
	if held, err := c.RefreshLock(ctx, "process-queue", "owner", time.Second); err == nil || held {
		t.Fatalf("refresh = %v, %v; want error", held, err)
	}
}
