package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

// testURL returns the Redis used by integration tests.
func testURL() string {
	if v := os.Getenv("FARMRA_TEST_REDIS_URL"); v != "" {
		return v
	}
	return "redis://localhost:6379/15"
}

func TestConnect_InvalidURL(t *testing.T) {
	if _, err := Connect(context.Background(), "http://not-redis"); err == nil {
		t.Error("Connect() with non-redis scheme should fail")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, "redis://127.0.0.1:1/0"); err == nil {
		t.Error("Connect() to closed port should fail")
	}
}

func TestConnect_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	client, err := Connect(context.Background(), testURL())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := HealthCheck(context.Background(), client); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
