package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema. Safe to call on every start.
	Migrate(ctx context.Context) error

	// Flow model.
	UpsertFlow(ctx context.Context, upsert *UpsertFlow) (*Flow, error)
	ListFlows(ctx context.Context, find *FindFlow) ([]*Flow, error)
	UpdateFlow(ctx context.Context, update *UpdateFlow) (*Flow, error)
	DeleteFlow(ctx context.Context, id string) error

	// Flow run model.
	UpsertFlowRun(ctx context.Context, upsert *UpsertFlowRun) (*FlowRun, error)
	ListFlowRuns(ctx context.Context, find *FindFlowRun) ([]*FlowRun, error)

	// Conversation log model.
	CreateConversationMessage(ctx context.Context, create *CreateConversationMessage) (*ConversationMessage, error)
	ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error)
	DeleteConversationMessages(ctx context.Context, sessionID string) error

	// Training sample model.
	CreateTrainingSample(ctx context.Context, create *CreateTrainingSample) (*TrainingSample, error)
	ListTrainingSamples(ctx context.Context, find *FindTrainingSample) ([]*TrainingSample, error)

	// User profile model.
	UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error)
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}
