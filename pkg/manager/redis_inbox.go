package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

const maxDrain = 100

// RedisInbox carries commands across processes on a Redis list and keeps
// the latest status snapshot under a separate key.
type RedisInbox struct {
	rds       *redis.Redis
	queueKey  string
	statusKey string
	statusTTL time.Duration
}

// NewRedisInbox binds the inbox to its keys. A zero ttl keeps status for 15 minutes.
func NewRedisInbox(rds *redis.Redis, queueKey, statusKey string, statusTTL time.Duration) *RedisInbox {
	if statusTTL <= 0 {
		statusTTL = 15 * time.Minute
	}
	return &RedisInbox{rds: rds, queueKey: queueKey, statusKey: statusKey, statusTTL: statusTTL}
}

// Push implements CommandInbox.
func (r *RedisInbox) Push(ctx context.Context, cmd Command) error {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("manager: encode command: %w", err)
	}
	if _, err := r.rds.LpushCtx(ctx, r.queueKey, string(data)); err != nil {
		return fmt.Errorf("manager: push command: %w", err)
	}
	return nil
}

// Drain implements CommandInbox. Undecodable entries are logged and dropped.
func (r *RedisInbox) Drain(ctx context.Context) ([]Command, error) {
	var out []Command
	for i := 0; i < maxDrain; i++ {
		raw, err := r.rds.RpopCtx(ctx, r.queueKey)
		if errors.Is(err, redis.Nil) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("manager: drain commands: %w", err)
		}
		var cmd Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			logx.WithContext(ctx).Errorf("manager: dropping malformed command %q: %v", raw, err)
			continue
		}
		out = append(out, cmd)
	}
	return out, nil
}

// PublishStatus implements StatusSink.
func (r *RedisInbox) PublishStatus(ctx context.Context, st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("manager: encode status: %w", err)
	}
	if err := r.rds.SetexCtx(ctx, r.statusKey, string(data), int(r.statusTTL/time.Second)); err != nil {
		return fmt.Errorf("manager: publish status: %w", err)
	}
	return nil
}

// LastStatus implements StatusSource. It returns nil when nothing was published.
func (r *RedisInbox) LastStatus(ctx context.Context) (*Status, error) {
	raw, err := r.rds.GetCtx(ctx, r.statusKey)
	if err != nil {
		return nil, fmt.Errorf("manager: read status: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("manager: decode status: %w", err)
	}
	return &st, nil
}
