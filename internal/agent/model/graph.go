package model

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type AppState struct {
	ConversationID       string
	ToolCallCount        int  // maintained in handlers (reset/increment)
	ToolCallLimitReached bool // set when tool call limit is exceeded
	ToolCallIDSeq        int  // local sequence to synthesize tool_call_id when provider omits

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// QueryInput represents one incoming user turn.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	KBID           string `json:"kb_id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
}

// Source is a user-visible citation in a query response.
type Source struct {
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
	URL        string  `json:"url,omitempty"`
}

// QueryResponse is the per-turn result returned to the caller.
type QueryResponse struct {
	ConversationID   string   `json:"conversation_id"`
	TicketNumber     string   `json:"ticket_number"`
	AIResponse       string   `json:"ai_response"`
	Sources          []Source `json:"sources"`
	Confidence       float64  `json:"confidence"`
	HandoffTriggered bool     `json:"handoff_triggered"`
	ResponseTime     float64  `json:"response_time"`
}
