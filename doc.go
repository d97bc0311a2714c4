// Package jobservice is the job-execution core of a business-process engine:
// it schedules, locks, retries, suspends, and dead-letters the asynchronous
// units of work (timers, async continuations, external-worker delegations,
// history persistence) that drive process and case advancement.
//
// The root package holds the shared building blocks: sentinel errors, the
// executor configuration, the entity base with its revision counter, and the
// engine registry that resolves byte-array storage per engine type.
//
// Subsystems follow a composable store pattern and live in their own
// packages: job (entity family, query criteria, store contract), bytearray
// (lazy out-of-line payloads), manager (per-kind CRUD facades and state
// transitions), timer and calendar (repeat computation), executor
// (acquisition loops, expired-lock sweep, failure handling), and store with
// its memory, postgres, and mongo backends. A single backend implements the
// whole persistence contract.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobservice
