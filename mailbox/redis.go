// Package mailbox keeps queued messages for offline users in Redis lists.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"

	"chatrelay/models"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "chatrelay:mailbox:"

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores one list per recipient, oldest message first.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(recipient string) string {
	return r.prefix + recipient
}

func (r *Redis) EnqueueMessage(ctx context.Context, recipient string, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, r.key(recipient), data).Err()
}

func (r *Redis) FetchQueuedMessages(ctx context.Context, recipient string) ([]models.Message, error) {
	items, err := r.rdb.LRange(ctx, r.key(recipient), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(items))
	for _, item := range items {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("queued message for %s: %w", recipient, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ClearQueuedMessages drops the oldest count entries of the recipient's list.
func (r *Redis) ClearQueuedMessages(ctx context.Context, recipient string, count int) error {
	if count <= 0 {
		return nil
	}
	return r.rdb.LTrim(ctx, r.key(recipient), int64(count), -1).Err()
}
