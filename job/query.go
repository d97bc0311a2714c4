package job

import "time"

// Page bounds a list query.
type Page struct {
	// Offset is the number of records to skip.
	Offset int
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
}

// Query is the criteria set for job list and count operations. Zero-valued
// fields are not applied. A backend that cannot evaluate a set predicate
// must return jobservice.ErrUnsupportedOperation rather than silently
// ignoring it.
type Query struct {
	// Identity.
	ID            string
	CorrelationID string

	// Handler binding.
	HandlerType  string
	HandlerTypes []string

	// Scope binding.
	ExecutionID         string
	ProcessInstanceID   string
	ProcessDefinitionID string
	ScopeID             string
	SubScopeID          string
	ScopeType           string
	ScopeDefinitionID   string
	ElementID           string

	// Scheduling.
	DueBefore *time.Time
	DueAfter  *time.Time

	// Failure. WithException matches jobs carrying either an exception
	// message or a stored stacktrace; ExceptionMessage matches exactly.
	WithException    bool
	ExceptionMessage string

	// Lease.
	LockOwner    string
	OnlyLocked   bool
	OnlyUnlocked bool

	// External worker.
	Topic string

	// Tenancy. TenantIDLike is a SQL LIKE pattern (% wildcards).
	TenantID        string
	TenantIDLike    string
	WithoutTenantID bool

	// WithoutScopeID matches jobs not bound to a scope (legacy
	// execution-bound jobs).
	WithoutScopeID bool
}
