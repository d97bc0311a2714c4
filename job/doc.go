// Package job defines the job entity family, its query criteria, and the
// persistence contract a storage backend must satisfy.
//
// A logical job is materialized as exactly one physical record in one of six
// kinds (ready, timer, suspended, dead-letter, history, external-worker).
// Lifecycle transitions between kinds are always an insert of the new record
// plus a delete of the old one, never an in-place kind change.
package job
