package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const (
	// DefaultTTL bounds how long an untouched reaction map is kept.
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "reactions:"
	maxRetries = 16
	scanCount  = 200
)

// Client keeps reaction maps in Redis, one JSON value per message.
// Toggles use WATCH/MULTI so concurrent writers never lose a mark.
type Client struct {
	cli *redis.Client
	ttl time.Duration
}

func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func reactionKey(room, messageID string) string {
	return keyPrefix + room + ":" + messageID
}

func (c *Client) Toggle(ctx context.Context, room, messageID, emoji string, reactor model.Reactor) (model.ReactionMap, bool, error) {
	key := reactionKey(room, messageID)
	var (
		out   model.ReactionMap
		added bool
	)
	txf := func(tx *redis.Tx) error {
		cur, err := load(ctx, tx, key)
		if err != nil {
			return err
		}
		out, added = cur.Toggled(emoji, reactor)
		var data []byte
		if len(out) > 0 {
			if data, err = json.Marshal(out); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if data == nil {
				p.Del(ctx, key)
				return nil
			}
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := c.cli.Watch(ctx, txf, key)
		if err == nil {
			return out, added, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, false, fmt.Errorf("redis reactions toggle %s: %w", key, err)
	}
	return nil, false, storage.ErrConflict
}

func (c *Client) Get(ctx context.Context, room, messageID string) (model.ReactionMap, error) {
	m, err := load(ctx, c.cli, reactionKey(room, messageID))
	if err != nil {
		return nil, fmt.Errorf("redis reactions get: %w", err)
	}
	return m, nil
}

// ForgetRoom deletes every key of room with SCAN, so it never blocks the server the
// way KEYS would.
func (c *Client) ForgetRoom(ctx context.Context, room string) error {
	pattern := keyPrefix + escapeGlob(room) + ":*"
	iter := c.cli.Scan(ctx, 0, pattern, scanCount).Iterator()
	batch := make([]string, 0, scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := c.cli.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis reactions forget %s: %w", room, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis reactions scan %s: %w", room, err)
	}
	if len(batch) > 0 {
		if err := c.cli.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis reactions forget %s: %w", room, err)
		}
	}
	return nil
}

// FlushDB clears the current database (tests).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, cmd getter, key string) (model.ReactionMap, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return model.ReactionMap{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m model.ReactionMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return m, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
