// Package memory is a fully in-memory store.Backend. Jobs live in a
// mutex-guarded map and the backlog is a FIFO slice with channel-based
// wakeup, so blocked workers suspend instead of polling. Intended for
// unit testing, development, and single-process deployments.
package memory
