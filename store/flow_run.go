package store

// FlowRun is the persisted snapshot of one flow execution. Context holds
// the serialized run context (variables, collected data, state history) as
// a JSON document owned by the flow package.
type FlowRun struct {
	RunID        string
	FlowID       string
	FlowVersion  int
	SessionID    string
	UserID       string
	CurrentState string
	Context      []byte // jsonb
	Status       string // running, suspended, completed, failed, cancelled, abandoned
	StartedTs    int64
	UpdatedTs    int64
}

// FindFlowRun specifies the conditions for finding flow runs.
type FindFlowRun struct {
	RunID     *string
	SessionID *string
	Status    *string
	Limit     *int
}

// UpsertFlowRun creates or replaces a run snapshot, keyed by run id.
type UpsertFlowRun struct {
	RunID        string
	FlowID       string
	FlowVersion  int
	SessionID    string
	UserID       string
	CurrentState string
	Context      []byte
	Status       string
	StartedTs    int64
}
