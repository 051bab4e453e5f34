package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore keeps single-use ceremony challenges under fresh opaque
// ids with a short TTL. Retrieval uses GETDEL so fetch and delete are one
// atomic step: a challenge id resolves at most once, and expiry is handled by
// the key's own TTL.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func challengeKey(kind domain.ChallengeKind, challengeID string) string {
	return fmt.Sprintf("challenge:%s:%s", kind, challengeID)
}

func (s *RedisChallengeStore) Store(ctx context.Context, challenge ports.Challenge, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("encode challenge: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	challengeID := uuid.NewString()
	if err := s.client.Set(ctx, challengeKey(challenge.Kind, challengeID), raw, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: store challenge: %v", domain.ErrStoreUnavailable, err)
	}
	return challengeID, nil
}

func (s *RedisChallengeStore) RetrieveAndInvalidate(ctx context.Context, challengeID string, kind domain.ChallengeKind) (ports.Challenge, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	raw, err := s.client.GetDel(ctx, challengeKey(kind, challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired, consumed, wrong kind and never-issued are
			// indistinguishable on purpose.
			return ports.Challenge{}, domain.ErrChallengeNotFound
		}
		return ports.Challenge{}, fmt.Errorf("%w: retrieve challenge: %v", domain.ErrStoreUnavailable, err)
	}

	var challenge ports.Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return ports.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if challenge.Kind != kind {
		return ports.Challenge{}, domain.ErrChallengeNotFound
	}
	return challenge, nil
}
