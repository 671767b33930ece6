package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

// Every transition runs as a Lua script so the status check and the
// mutation are a single server-side step. Token-conditioned scripts
// reply "lost" when the caller's lease no longer matches.

// claimScript: queued → running with a fresh lease.
// KEYS: job, running. ARGV: worker, token, expiresRFC, expiresMs, now, jobID.
var claimScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'queued' then return 'notclaimable' end
redis.call('HSET', KEYS[1],
  'status', 'running',
  'lease_owner', ARGV[1],
  'lease_token', ARGV[2],
  'lease_expires_at', ARGV[3],
  'claimed_at', ARGV[5],
  'updated_at', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[6])
return 'ok'
`)

// completeScript: running → succeeded, conditioned on the lease token.
// KEYS: job, running, terminal. ARGV: token, result, now, nowMs, jobID.
var completeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then return 'lost' end
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1],
  'status', 'succeeded',
  'result', ARGV[2],
  'completed_at', ARGV[3],
  'updated_at', ARGV[3])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_token', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[5])
return 'ok'
`)

// failScript: running → failed, conditioned on the lease token.
// KEYS: job, running, terminal. ARGV: token, errKind, errMsg, now, nowMs, jobID.
var failScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then return 'lost' end
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1],
  'status', 'failed',
  'error_kind', ARGV[2],
  'error_message', ARGV[3],
  'completed_at', ARGV[4],
  'updated_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_token', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[6])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[6])
return 'ok'
`)

// requeueScript: running → queued with an incremented retry count,
// conditioned on the lease token.
// KEYS: job, running. ARGV: token, now, jobID.
var requeueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then return 'lost' end
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then return 'lost' end
redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
redis.call('HSET', KEYS[1], 'status', 'queued', 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_token', 'lease_expires_at', 'claimed_at')
redis.call('ZREM', KEYS[2], ARGV[3])
return 'ok'
`)

// releaseScript: running → queued with the retry count untouched,
// conditioned on the lease token.
// KEYS: job, running. ARGV: token, now, jobID.
var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then return 'lost' end
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1], 'status', 'queued', 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_token', 'lease_expires_at', 'claimed_at')
redis.call('ZREM', KEYS[2], ARGV[3])
return 'ok'
`)

// cancelQueuedScript: queued → cancelled, atomic with the status check.
// KEYS: job, terminal. ARGV: now, nowMs, jobID.
var cancelQueuedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'succeeded' or status == 'failed' or status == 'cancelled' then return 'terminal' end
if status ~= 'queued' then return 'invalid' end
redis.call('HSET', KEYS[1],
  'status', 'cancelled',
  'completed_at', ARGV[1],
  'updated_at', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 'ok'
`)

// requestCancelScript sets the cooperative flag on a running job.
// KEYS: job. ARGV: now.
var requestCancelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'succeeded' or status == 'failed' or status == 'cancelled' then return 'terminal' end
if status ~= 'running' then return 'invalid' end
redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'updated_at', ARGV[1])
return 'ok'
`)

// cancelRunningScript: running → cancelled after acknowledgement,
// conditioned on the lease token.
// KEYS: job, running, terminal. ARGV: token, now, nowMs, jobID.
var cancelRunningScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then return 'lost' end
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1],
  'status', 'cancelled',
  'completed_at', ARGV[2],
  'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_token', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return 'ok'
`)

// CreateJob stores the job as a Hash, assigns its admission sequence
// from the INCR counter, and indexes it for ordered listing.
func (b *Backend) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobq/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return jobq.ErrJobAlreadyExists
	}

	seq, err := b.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("jobq/redis: assign seq: %w", err)
	}
	j.Seq = uint64(seq)
	j.Status = job.StatusQueued

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.ZAdd(ctx, jobsBySeqKey, goredis.Z{Score: float64(seq), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobq/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (b *Backend) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return b.getJobByKey(ctx, jobKey(jobID.String()))
}

// ClaimJob atomically transitions a queued job to running under a fresh
// lease.
func (b *Backend) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) (*job.Job, error) {
	jID := jobID.String()
	now := time.Now().UTC()
	expires := now.Add(leaseDuration)
	token := id.NewLeaseID()

	res, err := claimScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey},
		workerID.String(), token.String(),
		expires.Format(time.RFC3339Nano), expires.UnixMilli(),
		now.Format(time.RFC3339Nano), jID,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: claim job: %w", err)
	}
	switch res {
	case "notfound":
		return nil, jobq.ErrJobNotFound
	case "notclaimable":
		return nil, jobq.ErrNotClaimable
	}

	return b.getJobByKey(ctx, jobKey(jID))
}

// CompleteJob transitions a running job to succeeded.
func (b *Backend) CompleteJob(ctx context.Context, jobID id.JobID, token id.LeaseID, result []byte) error {
	jID := jobID.String()
	now := time.Now().UTC()

	res, err := completeScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey, terminalKey},
		token.String(), string(result),
		now.Format(time.RFC3339Nano), now.UnixMilli(), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: complete job: %w", err)
	}
	return transitionError(res)
}

// FailJob transitions a running job to failed with the recorded error.
func (b *Backend) FailJob(ctx context.Context, jobID id.JobID, token id.LeaseID, jobErr *job.Error) error {
	jID := jobID.String()
	now := time.Now().UTC()

	res, err := failScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey, terminalKey},
		token.String(), string(jobErr.Kind), jobErr.Message,
		now.Format(time.RFC3339Nano), now.UnixMilli(), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: fail job: %w", err)
	}
	return transitionError(res)
}

// RequeueJob transitions a running job back to queued and increments
// its retry count.
func (b *Backend) RequeueJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	jID := jobID.String()

	res, err := requeueScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey},
		token.String(), time.Now().UTC().Format(time.RFC3339Nano), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: requeue job: %w", err)
	}
	return transitionError(res)
}

// ReleaseJob transitions a running job back to queued without touching
// its retry count.
func (b *Backend) ReleaseJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	jID := jobID.String()

	res, err := releaseScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey},
		token.String(), time.Now().UTC().Format(time.RFC3339Nano), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: release job: %w", err)
	}
	return transitionError(res)
}

// CancelQueued atomically transitions a queued job to cancelled.
func (b *Backend) CancelQueued(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	now := time.Now().UTC()

	res, err := cancelQueuedScript.Run(ctx, b.client,
		[]string{jobKey(jID), terminalKey},
		now.Format(time.RFC3339Nano), now.UnixMilli(), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: cancel queued: %w", err)
	}
	return transitionError(res)
}

// RequestCancel sets the cooperative cancellation flag on a running job.
func (b *Backend) RequestCancel(ctx context.Context, jobID id.JobID) error {
	res, err := requestCancelScript.Run(ctx, b.client,
		[]string{jobKey(jobID.String())},
		time.Now().UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: request cancel: %w", err)
	}
	return transitionError(res)
}

// CancelRunning transitions a running job to cancelled after the worker
// acknowledged the cancellation signal.
func (b *Backend) CancelRunning(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	jID := jobID.String()
	now := time.Now().UTC()

	res, err := cancelRunningScript.Run(ctx, b.client,
		[]string{jobKey(jID), runningKey, terminalKey},
		token.String(), now.Format(time.RFC3339Nano), now.UnixMilli(), jID,
	).Text()
	if err != nil {
		return fmt.Errorf("jobq/redis: cancel running: %w", err)
	}
	return transitionError(res)
}

// ExpiredLeases returns running jobs whose lease expired before now,
// read from the expiry-scored running index.
func (b *Backend) ExpiredLeases(ctx context.Context, now time.Time) ([]*job.Job, error) {
	ids, err := b.client.ZRangeByScore(ctx, runningKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: expired leases: %w", err)
	}

	expired := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := b.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // reclaimed or swept since the range read
		}
		if j.Status == job.StatusRunning {
			expired = append(expired, j)
		}
	}
	return expired, nil
}

// SweepTerminal deletes terminal jobs completed before cutoff.
func (b *Backend) SweepTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := b.client.ZRangeByScore(ctx, terminalKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("jobq/redis: sweep range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, jID := range ids {
		pipe.Del(ctx, jobKey(jID))
		pipe.ZRem(ctx, jobsBySeqKey, jID)
		pipe.ZRem(ctx, terminalKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("jobq/redis: sweep delete: %w", err)
	}
	return int64(len(ids)), nil
}

// ListJobs returns jobs matching opts in admission order.
func (b *Backend) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := b.client.ZRange(ctx, jobsBySeqKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: list range: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := b.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // swept since the range read
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Seq < jobs[k].Seq })

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (b *Backend) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	if opts.Type == "" && opts.Status == "" {
		n, err := b.client.ZCard(ctx, jobsBySeqKey).Result()
		if err != nil {
			return 0, fmt.Errorf("jobq/redis: count: %w", err)
		}
		return n, nil
	}

	jobs, err := b.ListJobs(ctx, job.ListOpts{Type: opts.Type, Status: opts.Status})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// transitionError maps a script reply to the corresponding sentinel.
func transitionError(res string) error {
	switch res {
	case "ok":
		return nil
	case "notfound":
		return jobq.ErrJobNotFound
	case "lost":
		return jobq.ErrLeaseLost
	case "terminal":
		return jobq.ErrAlreadyTerminal
	case "invalid":
		return jobq.ErrInvalidTransition
	default:
		return fmt.Errorf("jobq/redis: unexpected script reply %q", res)
	}
}
