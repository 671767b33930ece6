// Package queue is the producer side of the job system: enqueue work
// against the sealed task registry, query job status, request
// cancellation. Admission can be rate limited per task type with a
// token-bucket Limiter.
package queue
