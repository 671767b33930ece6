package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

func (b *Backend) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID.String(),
		"type":        j.Type,
		"payload":     string(j.Payload),
		"status":      string(j.Status),
		"seq":         strconv.FormatUint(j.Seq, 10),
		"retry_count": strconv.Itoa(j.RetryCount),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.CancelRequested {
		m["cancel_requested"] = "1"
	}
	if len(j.Result) > 0 {
		m["result"] = string(j.Result)
	}
	if j.Error != nil {
		m["error_kind"] = string(j.Error.Kind)
		m["error_message"] = j.Error.Message
	}
	if !j.LeaseOwner.IsNil() {
		m["lease_owner"] = j.LeaseOwner.String()
	}
	if !j.LeaseToken.IsNil() {
		m["lease_token"] = j.LeaseToken.String()
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_at"] = j.LeaseExpiresAt.Format(time.RFC3339Nano)
	}
	if j.ClaimedAt != nil {
		m["claimed_at"] = j.ClaimedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: parse job id: %w", err)
	}

	seq, _ := strconv.ParseUint(m["seq"], 10, 64)         //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])       //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])       //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:              jID,
		Type:            m["type"],
		Status:          job.Status(m["status"]),
		Seq:             seq,
		RetryCount:      retryCount,
		MaxRetries:      maxRetries,
		Timeout:         time.Duration(timeout),
		CancelRequested: m["cancel_requested"] == "1",
	}
	j.CreatedAt = createdAt
	j.UpdatedAt = updatedAt

	if s := m["payload"]; s != "" {
		j.Payload = []byte(s)
	}
	if s := m["result"]; s != "" {
		j.Result = []byte(s)
	}
	if kind := m["error_kind"]; kind != "" {
		j.Error = &job.Error{Kind: job.ErrorKind(kind), Message: m["error_message"]}
	}
	if s := m["lease_owner"]; s != "" {
		if owner, perr := id.Parse(s); perr == nil {
			j.LeaseOwner = owner
		}
	}
	if s := m["lease_token"]; s != "" {
		if token, perr := id.Parse(s); perr == nil {
			j.LeaseToken = token
		}
	}
	if t, ok := parseTimePtr(m["lease_expires_at"]); ok {
		j.LeaseExpiresAt = t
	}
	if t, ok := parseTimePtr(m["claimed_at"]); ok {
		j.ClaimedAt = t
	}
	if t, ok := parseTimePtr(m["completed_at"]); ok {
		j.CompletedAt = t
	}
	return j, nil
}

func parseTimePtr(s string) (*time.Time, bool) {
	if s == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
