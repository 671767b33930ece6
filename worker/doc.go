// Package worker claims jobs from the backlog and drives them to an
// outcome. A Pool of claim loops blocks on the backlog, claims each
// popped job under a fresh lease, and hands it to the Executor, which
// runs the handler through the middleware chain and records success,
// failure, retry, or acknowledged cancellation. The Hub carries the
// cooperative cancellation signal into running handlers.
package worker
