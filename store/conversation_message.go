package store

// Message roles in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationMessage is one logged turn of a conversation. User turns carry
// classification results; assistant turns carry the routing decision that
// produced them.
type ConversationMessage struct {
	ID              int64
	SessionID       string
	RecipientID     string
	Platform        string
	Role            string
	Content         string
	Intent          string
	Confidence      float64
	Entities        []byte // jsonb
	TurnNumber      int
	RoutingDecision string
	ProcessingMs    int64
	CreatedTs       int64
}

// FindConversationMessage specifies the conditions for finding messages.
type FindConversationMessage struct {
	SessionID   *string
	RecipientID *string
	Role        *string
	Limit       *int
	Offset      *int
}

// CreateConversationMessage specifies the data for logging one turn.
type CreateConversationMessage struct {
	SessionID       string
	RecipientID     string
	Platform        string
	Role            string
	Content         string
	Intent          string
	Confidence      float64
	Entities        []byte
	TurnNumber      int
	RoutingDecision string
	ProcessingMs    int64
}
