package job

import "time"

// NewForTransition constructs a fresh target-kind record from source. It
// copies the handler binding, custom values, scope identifiers, scheduling
// bounds, retries, exclusivity, tenant, and failure payload — never the
// source's id, revision, lock state, or create time. The caller inserts the
// new record and deletes the source as the two steps of one logical
// transition.
func NewForTransition(source *Job, target Kind) *Job {
	j := &Job{
		ID:   target.NewID(),
		Kind: target,

		HandlerType:          source.HandlerType,
		HandlerConfiguration: source.HandlerConfiguration,
		CustomValuesRef:      source.CustomValuesRef.Copy(),

		ExecutionID:         source.ExecutionID,
		ProcessInstanceID:   source.ProcessInstanceID,
		ProcessDefinitionID: source.ProcessDefinitionID,
		ScopeID:             source.ScopeID,
		SubScopeID:          source.SubScopeID,
		ScopeType:           source.ScopeType,
		ScopeDefinitionID:   source.ScopeDefinitionID,
		ElementID:           source.ElementID,
		ElementName:         source.ElementName,

		DueDate:       cloneTime(source.DueDate),
		Repeat:        source.Repeat,
		EndDate:       cloneTime(source.EndDate),
		MaxIterations: source.MaxIterations,

		Retries:   source.Retries,
		Exclusive: source.Exclusive,
		TenantID:  source.TenantID,

		ExceptionMessage:       source.ExceptionMessage,
		ExceptionStacktraceRef: source.ExceptionStacktraceRef.Copy(),

		CorrelationID: source.CorrelationID,
		Topic:         source.Topic,
	}
	return j
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
