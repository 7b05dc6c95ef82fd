package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sashanth17/medicare-scheduling/internal/signaling"
)

const (
	offerQueueKey   = "videocall:offers"
	answerKeyPrefix = "videocall:answer:"
)

type redisMailbox struct {
	client    *redis.Client
	answerTTL time.Duration
}

// NewRedisMailbox shares the signaling queue between API instances. Offers
// live in one list, each answer in its own key expiring after answerTTL.
func NewRedisMailbox(client *redis.Client, answerTTL time.Duration) signaling.Mailbox {
	return &redisMailbox{client: client, answerTTL: answerTTL}
}

func answerKey(patientID int64) string {
	return fmt.Sprintf("%s%d", answerKeyPrefix, patientID)
}

func (m *redisMailbox) EnqueueOffer(ctx context.Context, o signaling.Offer) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	if err := m.client.RPush(ctx, offerQueueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue offer: %w", err)
	}
	return nil
}

func (m *redisMailbox) DequeueOffer(ctx context.Context) (*signaling.Offer, error) {
	data, err := m.client.LPop(ctx, offerQueueKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, signaling.ErrEmpty
		}
		return nil, fmt.Errorf("dequeue offer: %w", err)
	}

	var o signaling.Offer
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	return &o, nil
}

func (m *redisMailbox) PutAnswer(ctx context.Context, a signaling.Answer) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := m.client.Set(ctx, answerKey(a.PatientID), data, m.answerTTL).Err(); err != nil {
		return fmt.Errorf("store answer: %w", err)
	}
	return nil
}

func (m *redisMailbox) TakeAnswer(ctx context.Context, patientID int64) (*signaling.Answer, error) {
	data, err := m.client.GetDel(ctx, answerKey(patientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, signaling.ErrNoAnswer
		}
		return nil, fmt.Errorf("take answer: %w", err)
	}

	var a signaling.Answer
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return &a, nil
}
