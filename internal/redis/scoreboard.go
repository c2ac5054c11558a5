package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/trivia-live/internal/domain"
)

// Scoreboard mirrors player scores into a sorted set per session so the
// podium and display views rank without touching Postgres. Postgres stays
// authoritative; the reconciliation worker repairs drift.
type Scoreboard struct {
	client *redis.Client
}

// NewScoreboard creates a scoreboard on an existing Redis client
func NewScoreboard(client *redis.Client) *Scoreboard {
	return &Scoreboard{client: client}
}

// scoreboardKey returns the Redis key for a session's sorted set
func (s *Scoreboard) scoreboardKey(sessionID string) string {
	return fmt.Sprintf("session:%s:scoreboard", sessionID)
}

// SetScore sets a player's score on the scoreboard
func (s *Scoreboard) SetScore(ctx context.Context, sessionID, playerID string, score int64) error {
	key := s.scoreboardKey(sessionID)
	err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(score),
		Member: playerID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting score: %w", err)
	}
	return nil
}

// IncrementScore adds points to a player's score and returns the new total
func (s *Scoreboard) IncrementScore(ctx context.Context, sessionID, playerID string, delta int64) (int64, error) {
	key := s.scoreboardKey(sessionID)
	newScore, err := s.client.ZIncrBy(ctx, key, float64(delta), playerID).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing score: %w", err)
	}
	return int64(newScore), nil
}

// RemovePlayer removes a player from the scoreboard
func (s *Scoreboard) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	key := s.scoreboardKey(sessionID)
	if err := s.client.ZRem(ctx, key, playerID).Err(); err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

// TopN returns the highest-scoring players, rank 1 first
func (s *Scoreboard) TopN(ctx context.Context, sessionID string, n int) ([]domain.PodiumEntry, error) {
	key := s.scoreboardKey(sessionID)
	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.PodiumEntry, len(results))
	for i, result := range results {
		entries[i] = domain.PodiumEntry{
			Rank:     int64(i + 1),
			PlayerID: result.Member.(string),
			Score:    int64(result.Score),
		}
	}
	return entries, nil
}

// Count returns the number of players on the scoreboard
func (s *Scoreboard) Count(ctx context.Context, sessionID string) (int64, error) {
	key := s.scoreboardKey(sessionID)
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// BatchSetScores sets multiple scores using pipelining (used by the
// reconciliation worker)
func (s *Scoreboard) BatchSetScores(ctx context.Context, sessionID string, scores map[string]int64) error {
	key := s.scoreboardKey(sessionID)
	pipe := s.client.Pipeline()

	for playerID, score := range scores {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(score),
			Member: playerID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting scores: %w", err)
	}
	return nil
}

// Reset clears a session's scoreboard
func (s *Scoreboard) Reset(ctx context.Context, sessionID string) error {
	key := s.scoreboardKey(sessionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resetting scoreboard: %w", err)
	}
	return nil
}
