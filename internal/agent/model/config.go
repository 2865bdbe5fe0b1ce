package model

// ================ Config ================
type ConversationConfig struct {
	WindowTTL string `envconfig:"CONVERSATION_WINDOW_TTL" default:"15m"`
	Window    struct {
		MaxMessages int `envconfig:"CONVERSATION_WINDOW_MAX_MESSAGES" default:"10"`
	}
	Tools struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"4"`
	}
	Ticket struct {
		Prefix string `envconfig:"CONVERSATION_TICKET_PREFIX" default:"TCK"`
		Length int    `envconfig:"CONVERSATION_TICKET_LENGTH" default:"6"`
	}
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0.1"`
}

type DraftModelConfig struct {
	Model       string  `envconfig:"DRAFT_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"DRAFT_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"DRAFT_TEMPERATURE" default:"0.4"`
}

type ReviewModelConfig struct {
	Model       string  `envconfig:"REVIEW_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"REVIEW_MAX_TOKENS" default:"1500"`
	Temperature float32 `envconfig:"REVIEW_TEMPERATURE" default:"0.1"`
}

type PromptConfig struct {
	BusinessType  string `envconfig:"PROMPT_BUSINESS_TYPE" default:"customer support desk"`
	BusinessName  string `envconfig:"PROMPT_BUSINESS_NAME" default:"Aidesk"`
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Ada"`
}

type GenerationConfig struct {
	Timeout       string `envconfig:"GENERATION_TIMEOUT" default:"20s"`
	DependencyKey string `envconfig:"GENERATION_DEPENDENCY_KEY" default:"generation"`
}

type RetrievalConfig struct {
	TopK            int    `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	Timeout         string `envconfig:"RETRIEVAL_TIMEOUT" default:"10s"`
	MaxContextChars int    `envconfig:"RETRIEVAL_MAX_CONTEXT_CHARS" default:"8000"`
	EmbeddingModel  string `envconfig:"RETRIEVAL_EMBEDDING_MODEL" default:"text-embedding-004"`
}

type EscalationConfig struct {
	ConfidenceThreshold float64 `envconfig:"ESCALATION_CONFIDENCE_THRESHOLD" default:"0.5"`
	ZeroChunkThreshold  float64 `envconfig:"ESCALATION_ZERO_CHUNK_THRESHOLD" default:"0.65"`
	RepeatLimit         int     `envconfig:"ESCALATION_REPEAT_LIMIT" default:"3"`
	DuplicateDistance   float64 `envconfig:"ESCALATION_DUPLICATE_DISTANCE" default:"0.25"`
}
