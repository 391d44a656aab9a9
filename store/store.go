package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// userProfileCache keeps recently enriched profiles hot; the enricher
	// reads the profile on nearly every turn.
	userProfileCache *cache.LRUCache[string, *UserProfile]
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:           driver,
		profile:          profile,
		userProfileCache: cache.NewLRUCache[string, *UserProfile](1000, 10*time.Minute),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) UpsertFlow(ctx context.Context, upsert *UpsertFlow) (*Flow, error) {
	return s.driver.UpsertFlow(ctx, upsert)
}

func (s *Store) ListFlows(ctx context.Context, find *FindFlow) ([]*Flow, error) {
	return s.driver.ListFlows(ctx, find)
}

func (s *Store) UpdateFlow(ctx context.Context, update *UpdateFlow) (*Flow, error) {
	return s.driver.UpdateFlow(ctx, update)
}

func (s *Store) DeleteFlow(ctx context.Context, id string) error {
	return s.driver.DeleteFlow(ctx, id)
}

func (s *Store) UpsertFlowRun(ctx context.Context, upsert *UpsertFlowRun) (*FlowRun, error) {
	return s.driver.UpsertFlowRun(ctx, upsert)
}

func (s *Store) ListFlowRuns(ctx context.Context, find *FindFlowRun) ([]*FlowRun, error) {
	return s.driver.ListFlowRuns(ctx, find)
}

func (s *Store) CreateConversationMessage(ctx context.Context, create *CreateConversationMessage) (*ConversationMessage, error) {
	return s.driver.CreateConversationMessage(ctx, create)
}

func (s *Store) ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error) {
	return s.driver.ListConversationMessages(ctx, find)
}

func (s *Store) DeleteConversationMessages(ctx context.Context, sessionID string) error {
	return s.driver.DeleteConversationMessages(ctx, sessionID)
}

func (s *Store) CreateTrainingSample(ctx context.Context, create *CreateTrainingSample) (*TrainingSample, error) {
	return s.driver.CreateTrainingSample(ctx, create)
}

func (s *Store) ListTrainingSamples(ctx context.Context, find *FindTrainingSample) ([]*TrainingSample, error) {
	return s.driver.ListTrainingSamples(ctx, find)
}

// UpsertUserProfile writes through the profile cache.
func (s *Store) UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error) {
	saved, err := s.driver.UpsertUserProfile(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.userProfileCache.Set(saved.UserID, saved, 0)
	return saved, nil
}

// GetUserProfile returns the cached profile when fresh, hitting the
// database otherwise. A missing profile returns (nil, nil).
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	if cached, ok := s.userProfileCache.Get(userID); ok {
		return cached, nil
	}
	found, err := s.driver.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if found != nil {
		s.userProfileCache.Set(userID, found, 0)
	}
	return found, nil
}

// MarshalJSONB is a small helper for callers building jsonb columns.
// nil maps to SQL-friendly "null" so columns stay queryable.
func MarshalJSONB(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
