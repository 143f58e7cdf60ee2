// Package dedupe guards a campaign.Transport with a Redis record of
// delivered (campaign, stage, email) triples.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"followup-dispatcher/internal/campaign"
	"followup-dispatcher/internal/common/logger"
)

const keyPrefix = "followup:sent"

// Transport skips sends already recorded in Redis. Redis failures never
// block a send.
type Transport struct {
	next   campaign.Transport
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewTransport(next campaign.Transport, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *Transport {
	return &Transport{next: next, rdb: rdb, ttl: ttl, logger: log}
}

// Key is the delivery record key for one message.
func Key(msg campaign.Message) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, msg.Tags["campaign"], msg.Tags["stage"], msg.To)
}

func (t *Transport) Send(ctx context.Context, msg campaign.Message) (campaign.Receipt, error) {
	key := Key(msg)

	messageID, err := t.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		t.logger.Debug("delivery already recorded", map[string]interface{}{"key": key, "messageId": messageID})
		return campaign.Receipt{MessageID: messageID, Deduplicated: true}, nil
	case !errors.Is(err, redis.Nil):
		t.logger.Warn("dedupe lookup failed, sending anyway", map[string]interface{}{"key": key, "error": err})
	}

	receipt, err := t.next.Send(ctx, msg)
	if err != nil {
		return receipt, err
	}

	if err := t.rdb.Set(ctx, key, receipt.MessageID, t.ttl).Err(); err != nil {
		t.logger.Warn("failed to record delivery", map[string]interface{}{"key": key, "error": err})
	}
	return receipt, nil
}
