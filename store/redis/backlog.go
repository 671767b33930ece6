package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
)

// brpopTimeout bounds each blocking pop so consumers notice Close and
// promote due delayed entries between waits.
const brpopTimeout = time.Second

// promoteScript moves due delayed entries into the backlog list.
// KEYS: delayed, backlog. ARGV: nowMs.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, jid in ipairs(due) do
  redis.call('ZREM', KEYS[1], jid)
  redis.call('LPUSH', KEYS[2], jid)
end
return #due
`)

// Push appends a job id to the backlog. BRPOP consumers wake on their
// own.
func (b *Backend) Push(ctx context.Context, jobID id.JobID) error {
	if b.closed.Load() {
		return jobq.ErrBacklogClosed
	}
	if err := b.client.LPush(ctx, backlogKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("jobq/redis: backlog push: %w", err)
	}
	return nil
}

// PopBlocking removes and returns the oldest backlog entry, blocking
// until one is available, ctx is done, or the backend closes. Due
// delayed entries are promoted before each wait.
func (b *Backend) PopBlocking(ctx context.Context) (id.JobID, error) {
	for {
		if b.closed.Load() {
			return id.Nil, jobq.ErrBacklogClosed
		}
		if err := ctx.Err(); err != nil {
			return id.Nil, err
		}

		if err := b.promoteDue(ctx); err != nil {
			return id.Nil, err
		}

		vals, err := b.client.BRPop(ctx, brpopTimeout, backlogKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue // timeout, re-check closed and delayed
			}
			if ctx.Err() != nil {
				return id.Nil, ctx.Err()
			}
			return id.Nil, fmt.Errorf("jobq/redis: backlog pop: %w", err)
		}

		// BRPOP replies [key, value].
		jobID, perr := id.ParseJobID(vals[1])
		if perr != nil {
			b.logger.Warn("dropping malformed backlog entry", "entry", vals[1])
			continue
		}
		return jobID, nil
	}
}

// PushDelayed schedules a job id to re-enter the backlog after delay.
func (b *Backend) PushDelayed(ctx context.Context, jobID id.JobID, delay time.Duration) error {
	if b.closed.Load() {
		return jobq.ErrBacklogClosed
	}
	if delay <= 0 {
		return b.Push(ctx, jobID)
	}
	due := time.Now().UTC().Add(delay).UnixMilli()
	err := b.client.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(due), Member: jobID.String()}).Err()
	if err != nil {
		return fmt.Errorf("jobq/redis: backlog push delayed: %w", err)
	}
	return nil
}

// Remove drops a job id from the backlog and the delayed set if still
// present. Best-effort by contract.
func (b *Backend) Remove(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, backlogKey, 0, jID)
	pipe.ZRem(ctx, delayedKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobq/redis: backlog remove: %w", err)
	}
	return nil
}

// Len returns the number of immediately claimable entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	n, err := b.client.LLen(ctx, backlogKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobq/redis: backlog len: %w", err)
	}
	return int(n), nil
}

func (b *Backend) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, b.client, []string{delayedKey, backlogKey}, now).Err(); err != nil {
		return fmt.Errorf("jobq/redis: promote delayed: %w", err)
	}
	return nil
}
