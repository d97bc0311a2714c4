package job

import (
	"time"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
)

// Kind identifies the physical representation of a job. Each kind is stored
// in its own table or collection.
type Kind string

const (
	// KindReady holds jobs eligible for immediate execution.
	KindReady Kind = "ready"
	// KindTimer holds jobs with a due date in the future.
	KindTimer Kind = "timer"
	// KindSuspended holds jobs parked while their owning scope is suspended.
	KindSuspended Kind = "suspended"
	// KindDeadLetter holds jobs whose retries are exhausted.
	KindDeadLetter Kind = "dead-letter"
	// KindHistory holds async history-persistence jobs.
	KindHistory Kind = "history"
	// KindExternalWorker holds jobs pulled by third-party worker processes.
	KindExternalWorker Kind = "external-worker"
)

// Kinds lists every job kind in a fixed order.
var Kinds = []Kind{
	KindReady, KindTimer, KindSuspended,
	KindDeadLetter, KindHistory, KindExternalWorker,
}

// Lockable reports whether records of this kind carry lease state.
// Suspended and dead-letter jobs are never acquired.
func (k Kind) Lockable() bool {
	switch k {
	case KindReady, KindTimer, KindHistory, KindExternalWorker:
		return true
	default:
		return false
	}
}

// IDPrefix returns the TypeID prefix for records of this kind.
func (k Kind) IDPrefix() id.Prefix {
	switch k {
	case KindTimer:
		return id.PrefixTimerJob
	case KindSuspended:
		return id.PrefixSuspendedJob
	case KindDeadLetter:
		return id.PrefixDeadLetterJob
	case KindHistory:
		return id.PrefixHistoryJob
	case KindExternalWorker:
		return id.PrefixExternalWorker
	default:
		return id.PrefixJob
	}
}

// NewID generates a fresh identifier for a record of this kind.
func (k Kind) NewID() id.ID { return id.New(k.IDPrefix()) }

// MaxExceptionMessageLength is the column width of the exception message.
// Longer messages are truncated; the full text lives in the stacktrace
// byte array.
const MaxExceptionMessageLength = 2500

// Job is the canonical job record. One struct covers all six kinds; the
// Kind tag decides which table the record lives in and which attributes
// are meaningful (lock state on lockable kinds, topic and correlation id
// on external-worker jobs).
type Job struct {
	jobservice.Entity

	ID   id.ID `json:"id"`
	Kind Kind  `json:"kind"`

	// Handler binding. The handler registry is external; this core only
	// stores the type key and configuration strings.
	HandlerType          string         `json:"handler_type"`
	HandlerConfiguration string         `json:"handler_configuration,omitempty"`
	CustomValuesRef      *bytearray.Ref `json:"custom_values_ref,omitempty"`

	// Scope binding.
	ExecutionID         string `json:"execution_id,omitempty"`
	ProcessInstanceID   string `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string `json:"process_definition_id,omitempty"`
	ScopeID             string `json:"scope_id,omitempty"`
	SubScopeID          string `json:"sub_scope_id,omitempty"`
	ScopeType           string `json:"scope_type,omitempty"`
	ScopeDefinitionID   string `json:"scope_definition_id,omitempty"`
	ElementID           string `json:"element_id,omitempty"`
	ElementName         string `json:"element_name,omitempty"`

	// Scheduling.
	CreateTime    time.Time  `json:"create_time"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Repeat        string     `json:"repeat,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`

	// Execution.
	Retries   int    `json:"retries"`
	Exclusive bool   `json:"exclusive"`
	TenantID  string `json:"tenant_id,omitempty"`

	// Failure payload.
	ExceptionMessage       string         `json:"exception_message,omitempty"`
	ExceptionStacktraceRef *bytearray.Ref `json:"exception_stacktrace_ref,omitempty"`

	// Lease state (lockable kinds only).
	LockOwner          string     `json:"lock_owner,omitempty"`
	LockExpirationTime *time.Time `json:"lock_expiration_time,omitempty"`

	// External-worker binding.
	CorrelationID string `json:"correlation_id,omitempty"`
	Topic         string `json:"topic,omitempty"`
}

// SetExceptionMessage stores msg, truncated to MaxExceptionMessageLength.
func (j *Job) SetExceptionMessage(msg string) {
	j.ExceptionMessage = TruncateExceptionMessage(msg)
}

// Locked reports whether the job currently carries a lease.
func (j *Job) Locked() bool { return j.LockExpirationTime != nil }

// LockExpired reports whether the job's lease has elapsed at the given time.
// An unlocked job is not expired.
func (j *Job) LockExpired(now time.Time) bool {
	return j.LockExpirationTime != nil && j.LockExpirationTime.Before(now)
}

// Due reports whether the job is eligible for execution at the given time.
// A nil due date means immediately eligible.
func (j *Job) Due(now time.Time) bool {
	return j.DueDate == nil || !j.DueDate.After(now)
}

// ClearLock removes the lease state.
func (j *Job) ClearLock() {
	j.LockOwner = ""
	j.LockExpirationTime = nil
}

// ByteArrayRefs returns the byte-array references owned by this record.
// The nil entries of unset refs are skipped.
func (j *Job) ByteArrayRefs() []*bytearray.Ref {
	refs := make([]*bytearray.Ref, 0, 2)
	if j.ExceptionStacktraceRef != nil {
		refs = append(refs, j.ExceptionStacktraceRef)
	}
	if j.CustomValuesRef != nil {
		refs = append(refs, j.CustomValuesRef)
	}
	return refs
}

// TruncateExceptionMessage bounds msg to MaxExceptionMessageLength bytes,
// respecting rune boundaries.
func TruncateExceptionMessage(msg string) string {
	if len(msg) <= MaxExceptionMessageLength {
		return msg
	}
	cut := MaxExceptionMessageLength
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
