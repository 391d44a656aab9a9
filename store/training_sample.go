package store

// Training sample review states.
const (
	ReviewPending      = "pending"
	ReviewAutoApproved = "auto_approved"
	ReviewApproved     = "approved"
	ReviewRejected     = "rejected"
)

// TrainingSample is one captured utterance with its resolved intent, fed
// back into classifier training. High-confidence classifications are
// auto-approved; the rest wait for human review.
type TrainingSample struct {
	ID           int64
	Text         string
	Intent       string
	Entities     []byte // jsonb
	Language     string
	Confidence   float64
	Source       string // nlu, keyword, manual
	ReviewStatus string
	CreatedTs    int64
}

// FindTrainingSample specifies the conditions for finding samples.
type FindTrainingSample struct {
	Intent       *string
	ReviewStatus *string
	Limit        *int
}

// CreateTrainingSample specifies the data for capturing one sample.
type CreateTrainingSample struct {
	Text         string
	Intent       string
	Entities     []byte
	Language     string
	Confidence   float64
	Source       string
	ReviewStatus string
}
