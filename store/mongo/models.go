package mongo

import (
	"fmt"
	"time"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
)

// collectionFor maps a job kind to its collection.
func collectionFor(kind job.Kind) string {
	switch kind {
	case job.KindTimer:
		return "flw_timer_jobs"
	case job.KindSuspended:
		return "flw_suspended_jobs"
	case job.KindDeadLetter:
		return "flw_deadletter_jobs"
	case job.KindHistory:
		return "flw_history_jobs"
	case job.KindExternalWorker:
		return "flw_external_worker_jobs"
	default:
		return "flw_ready_jobs"
	}
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID                     string     `bson:"_id"`
	Revision               int        `bson:"revision"`
	HandlerType            string     `bson:"handler_type"`
	HandlerConfiguration   string     `bson:"handler_configuration,omitempty"`
	CustomValuesRefID      string     `bson:"custom_values_ref_id,omitempty"`
	ExecutionID            string     `bson:"execution_id,omitempty"`
	ProcessInstanceID      string     `bson:"process_instance_id,omitempty"`
	ProcessDefinitionID    string     `bson:"process_definition_id,omitempty"`
	ScopeID                string     `bson:"scope_id,omitempty"`
	SubScopeID             string     `bson:"sub_scope_id,omitempty"`
	ScopeType              string     `bson:"scope_type,omitempty"`
	ScopeDefinitionID      string     `bson:"scope_definition_id,omitempty"`
	ElementID              string     `bson:"element_id,omitempty"`
	ElementName            string     `bson:"element_name,omitempty"`
	CreateTime             time.Time  `bson:"create_time"`
	DueDate                *time.Time `bson:"due_date,omitempty"`
	Repeat                 string     `bson:"repeat,omitempty"`
	EndDate                *time.Time `bson:"end_date,omitempty"`
	MaxIterations          int        `bson:"max_iterations,omitempty"`
	Retries                int        `bson:"retries"`
	Exclusive              bool       `bson:"exclusive"`
	TenantID               string     `bson:"tenant_id,omitempty"`
	ExceptionMessage       string     `bson:"exception_message,omitempty"`
	ExceptionStacktraceRef string     `bson:"exception_stacktrace_ref_id,omitempty"`
	LockOwner              string     `bson:"lock_owner,omitempty"`
	LockExpirationTime     *time.Time `bson:"lock_expiration_time,omitempty"`
	CorrelationID          string     `bson:"correlation_id,omitempty"`
	Topic                  string     `bson:"topic,omitempty"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                     j.ID.String(),
		Revision:               j.Revision,
		HandlerType:            j.HandlerType,
		HandlerConfiguration:   j.HandlerConfiguration,
		CustomValuesRefID:      refIDString(j.CustomValuesRef),
		ExecutionID:            j.ExecutionID,
		ProcessInstanceID:      j.ProcessInstanceID,
		ProcessDefinitionID:    j.ProcessDefinitionID,
		ScopeID:                j.ScopeID,
		SubScopeID:             j.SubScopeID,
		ScopeType:              j.ScopeType,
		ScopeDefinitionID:      j.ScopeDefinitionID,
		ElementID:              j.ElementID,
		ElementName:            j.ElementName,
		CreateTime:             j.CreateTime,
		DueDate:                j.DueDate,
		Repeat:                 j.Repeat,
		EndDate:                j.EndDate,
		MaxIterations:          j.MaxIterations,
		Retries:                j.Retries,
		Exclusive:              j.Exclusive,
		TenantID:               j.TenantID,
		ExceptionMessage:       j.ExceptionMessage,
		ExceptionStacktraceRef: refIDString(j.ExceptionStacktraceRef),
		LockOwner:              j.LockOwner,
		LockExpirationTime:     j.LockExpirationTime,
		CorrelationID:          j.CorrelationID,
		Topic:                  j.Topic,
	}
}

func fromJobModel(m *jobModel, kind job.Kind) (*job.Job, error) {
	parsedID, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobservice/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity:               jobservice.Entity{Revision: m.Revision},
		ID:                   parsedID,
		Kind:                 kind,
		HandlerType:          m.HandlerType,
		HandlerConfiguration: m.HandlerConfiguration,
		ExecutionID:          m.ExecutionID,
		ProcessInstanceID:    m.ProcessInstanceID,
		ProcessDefinitionID:  m.ProcessDefinitionID,
		ScopeID:              m.ScopeID,
		SubScopeID:           m.SubScopeID,
		ScopeType:            m.ScopeType,
		ScopeDefinitionID:    m.ScopeDefinitionID,
		ElementID:            m.ElementID,
		ElementName:          m.ElementName,
		CreateTime:           m.CreateTime,
		DueDate:              m.DueDate,
		Repeat:               m.Repeat,
		EndDate:              m.EndDate,
		MaxIterations:        m.MaxIterations,
		Retries:              m.Retries,
		Exclusive:            m.Exclusive,
		TenantID:             m.TenantID,
		ExceptionMessage:     m.ExceptionMessage,
		LockOwner:            m.LockOwner,
		LockExpirationTime:   m.LockExpirationTime,
		CorrelationID:        m.CorrelationID,
		Topic:                m.Topic,
	}

	if m.CustomValuesRefID != "" {
		refID, refErr := id.ParseByteArrayID(m.CustomValuesRefID)
		if refErr != nil {
			return nil, fmt.Errorf("jobservice/mongo: parse custom values ref %q: %w", m.CustomValuesRefID, refErr)
		}
		j.CustomValuesRef = bytearray.NewRefWithID(refID)
	}
	if m.ExceptionStacktraceRef != "" {
		refID, refErr := id.ParseByteArrayID(m.ExceptionStacktraceRef)
		if refErr != nil {
			return nil, fmt.Errorf("jobservice/mongo: parse stacktrace ref %q: %w", m.ExceptionStacktraceRef, refErr)
		}
		j.ExceptionStacktraceRef = bytearray.NewRefWithID(refID)
	}

	return j, nil
}

// refIDString extracts the persistable id of a byte-array reference; a nil
// or unallocated reference stores the empty string (omitted field).
func refIDString(r *bytearray.Ref) string {
	if r == nil {
		return ""
	}
	return r.ID().String()
}

// ── Byte-array model ──────────────────────────────────────────────

type byteArrayModel struct {
	ID       string `bson:"_id"`
	Revision int    `bson:"revision"`
	Name     string `bson:"name,omitempty"`
	Bytes    []byte `bson:"bytes,omitempty"`
}

func toByteArrayModel(e *bytearray.Entity) *byteArrayModel {
	return &byteArrayModel{
		ID:       e.ID.String(),
		Revision: e.Revision,
		Name:     e.Name,
		Bytes:    e.Bytes,
	}
}

func fromByteArrayModel(m *byteArrayModel) (*bytearray.Entity, error) {
	parsedID, err := id.ParseByteArrayID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobservice/mongo: parse byte array id %q: %w", m.ID, err)
	}
	return &bytearray.Entity{
		Entity: jobservice.Entity{Revision: m.Revision},
		ID:     parsedID,
		Name:   m.Name,
		Bytes:  m.Bytes,
	}, nil
}
