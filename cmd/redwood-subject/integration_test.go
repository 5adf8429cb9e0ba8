//go:build integration

package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/dyluth/redwood/internal/admin"
	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/pkg/bus"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) string {
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

// TestSubjects_ReconnectMidSession runs three bot subjects against a real
// Redis, restarts one of them mid-session and checks everyone still
// finishes having played every period.
func TestSubjects_ReconnectMidSession(t *testing.T) {
	redisURL := setupRedis(t)
	ids := []string{"1", "2", "3"}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client, err := bus.NewClient(opts, "lab", 1)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	subjectConfig := func(id, addr string) *config.SubjectConfig {
		return &config.SubjectConfig{
			InstanceName: "lab",
			Session:      1,
			SubjectID:    id,
			RedisURL:     redisURL,
			HealthAddr:   addr,
			LogLevel:     "info",
		}
	}

	errc := make(chan error, len(ids)+1)
	first, stopFirst := context.WithCancel(ctx)
	go func() { errc <- run(first, subjectConfig("1", "127.0.0.1:18081"), zaptest.NewLogger(t), 200*time.Millisecond) }()
	for _, id := range ids[1:] {
		id := id
		go func() { errc <- run(ctx, subjectConfig(id, "127.0.0.1:0"), zaptest.NewLogger(t), 200*time.Millisecond) }()
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18081/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond, "subject 1 is healthy")

	require.NoError(t, admin.Start(ctx, client, &config.SessionConfig{
		Version:  "1.0",
		Subjects: ids,
		Periods:  []config.Period{{}, {}, {}, {}},
	}))

	require.Eventually(t, func() bool {
		periods, err := client.Periods(ctx)
		return err == nil && periods["1"] >= 2
	}, 20*time.Second, 50*time.Millisecond, "subject 1 reaches period 2")

	stopFirst()
	require.NoError(t, <-errc)
	go func() { errc <- run(ctx, subjectConfig("1", "127.0.0.1:0"), zaptest.NewLogger(t), 200*time.Millisecond) }()

	require.Eventually(t, func() bool {
		periods, err := client.Periods(ctx)
		if err != nil {
			return false
		}
		for _, id := range ids {
			if periods[id] != 5 {
				return false
			}
		}
		return true
	}, 40*time.Second, 100*time.Millisecond, "every subject finishes")

	for period := 1; period <= 4; period++ {
		log, err := client.PeriodLog(ctx, period)
		require.NoError(t, err)
		choices := make(map[string]int)
		for _, env := range log {
			if env.Key == "choice" {
				choices[env.Sender]++
			}
		}
		for _, id := range ids {
			// A restarted subject replays its period start, so it may choose twice
			assert.GreaterOrEqual(t, choices[id], 1, "subject %s chooses in period %d", id, period)
		}
	}

	cancel()
	for range ids {
		assert.NoError(t, <-errc)
	}
}
