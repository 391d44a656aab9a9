package conversation

import (
	"context"

	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/store"
)

// RunStore adapts the durable store to the engine's step-boundary
// persistence hook.
type RunStore struct {
	store *store.Store
}

func NewRunStore(st *store.Store) *RunStore {
	return &RunStore{store: st}
}

func (r *RunStore) SaveRun(ctx context.Context, fc *flow.Context) error {
	_, err := r.store.UpsertFlowRun(ctx, &store.UpsertFlowRun{
		RunID:        fc.RunID,
		FlowID:       fc.FlowID,
		FlowVersion:  fc.FlowVersion,
		SessionID:    fc.SessionID,
		UserID:       fc.UserID,
		CurrentState: fc.CurrentState,
		Context:      fc.Marshal(),
		Status:       fc.Status,
		StartedTs:    fc.StartedAt.Unix(),
	})
	return err
}

var _ flow.RunStore = (*RunStore)(nil)
