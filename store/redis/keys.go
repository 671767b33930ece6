package redis

// Redis key naming conventions for jobq data.
// All keys are prefixed with "jobq:" to avoid collisions.

const keyPrefix = "jobq:"

// jobKey returns the key for a job hash: jobq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// backlogKey is the List holding immediately claimable job ids.
const backlogKey = keyPrefix + "backlog"

// delayedKey is the Sorted Set of delayed job ids, scored by the unix
// millisecond at which they become claimable.
const delayedKey = keyPrefix + "delayed"

// seqKey is the INCR counter assigning admission sequence numbers.
const seqKey = keyPrefix + "seq"

// jobsBySeqKey is the Sorted Set indexing all job ids by admission
// sequence, used for ordered listing.
const jobsBySeqKey = keyPrefix + "jobs_by_seq"

// runningKey is the Sorted Set of running job ids, scored by lease
// expiry unix milliseconds. The monitor scans it for orphans.
const runningKey = keyPrefix + "running"

// terminalKey is the Sorted Set of terminal job ids, scored by
// completion unix milliseconds. The sweeper scans it for retention.
const terminalKey = keyPrefix + "terminal"
