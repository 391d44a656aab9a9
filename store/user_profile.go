package store

// UserProfile is the durable per-user attribute document built up by the
// preference enricher. Attrs maps attribute key to value plus provenance
// (confidence, source turn); the preference package owns its shape.
type UserProfile struct {
	UserID       string
	Attrs        []byte // jsonb
	Completeness float64
	UpdatedTs    int64
}

// UpsertUserProfile creates or replaces a profile document.
type UpsertUserProfile struct {
	UserID       string
	Attrs        []byte
	Completeness float64
}
