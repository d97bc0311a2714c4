package jobservice

// Engine type identifiers. A job service instance is shared across the
// orchestration engines of one installation; each engine persists its own
// byte arrays, so blob access carries the engine type that owns the row.
const (
	// EngineProcess is the classic process (BPMN) engine.
	EngineProcess = "bpmn"
	// EngineCase is the case-management (CMMN) engine.
	EngineCase = "cmmn"
	// EngineAll is the sentinel that defers engine selection to the
	// registry's priority order: process engine first, then the case
	// engine, then any other registered engine.
	EngineAll = "all"
)
