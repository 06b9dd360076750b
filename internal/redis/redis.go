// Package redis caches per-mode leaderboards in Redis sorted sets. The
// cache is advisory: the SQL score table stays authoritative and a nil
// client disables the mirror entirely.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Client wraps redis.Client
type Client struct {
	*redis.Client
}

// New creates a new Redis client
func New(config Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", config.Host, config.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[REDIS] connected to %s", addr)

	return &Client{Client: client}, nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	return c.Client.Close()
}

func leaderboardKey(mode string) string {
	return "leaderboard:" + mode
}

// SetScore mirrors one user's rating for a mode into the leaderboard.
func (c *Client) SetScore(ctx context.Context, mode, userID string, score int) error {
	if c == nil {
		return nil
	}
	return c.ZAdd(ctx, leaderboardKey(mode), redis.Z{
		Score:  float64(score),
		Member: userID,
	}).Err()
}

// Entry is one leaderboard row.
type Entry struct {
	UserID string `json:"userid"`
	Score  int    `json:"score"`
}

// Top returns the n highest-rated users for a mode.
func (c *Client) Top(ctx context.Context, mode string, n int) ([]Entry, error) {
	if c == nil {
		return nil, nil
	}
	rows, err := c.ZRevRangeWithScores(ctx, leaderboardKey(mode), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard read: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, z := range rows {
		id, _ := z.Member.(string)
		entries = append(entries, Entry{UserID: id, Score: int(z.Score)})
	}
	return entries, nil
}
