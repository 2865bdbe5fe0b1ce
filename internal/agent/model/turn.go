package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// RouteKind is the per-turn routing decision for an incoming message.
type RouteKind string

const (
	RouteConversational RouteKind = "conversational"
	RouteKBQuery        RouteKind = "kb_query"
	RouteMathQuery      RouteKind = "math_query"
	RouteEscalation     RouteKind = "escalation_request"
	// RouteContactReply is an email-shaped answer to a pending contact request.
	RouteContactReply RouteKind = "contact_reply"
	// RouteDegraded is chosen when the routing dependency itself is down.
	RouteDegraded RouteKind = "degraded"
)

// Classification is the router's verdict for the current message.
type Classification struct {
	Kind       RouteKind `json:"kind"`
	Confidence float64   `json:"confidence"`
	// Expression holds the extracted arithmetic for math queries.
	Expression string `json:"expression,omitempty"`
}

// RetrievedChunk is one knowledge-base excerpt returned by vector search.
type RetrievedChunk struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Title      string  `json:"title,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Locator    string  `json:"locator,omitempty"`
}

// ContextSegment records the character range of a chunk excerpt that made it
// into the assembled context.
type ContextSegment struct {
	ChunkID string `json:"chunk_id"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// FormattedContext is the budgeted, source-tagged context handed to drafting.
type FormattedContext struct {
	Text     string           `json:"text"`
	Segments []ContextSegment `json:"segments"`
	Chunks   []RetrievedChunk `json:"chunks"`
}

// SafetyVerdict is the reviewer's judgement of a draft.
type SafetyVerdict string

const (
	VerdictPass    SafetyVerdict = "pass"
	VerdictRewrite SafetyVerdict = "rewrite"
	VerdictReject  SafetyVerdict = "reject"
)

// ToolInvocation records one tool round trip made while drafting.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
}

// AnswerCandidate is the reviewed answer a turn produces.
type AnswerCandidate struct {
	Text            string           `json:"text"`
	Confidence      float64          `json:"confidence"`
	Verdict         SafetyVerdict    `json:"verdict"`
	Citations       []string         `json:"citations,omitempty"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
}

// EscalationReason is the recorded cause of a human handoff.
type EscalationReason string

const (
	ReasonLowConfidence    EscalationReason = "low_confidence"
	ReasonReviewRejected   EscalationReason = "review_rejected"
	ReasonUserRequested    EscalationReason = "user_requested"
	ReasonRepeatedQuestion EscalationReason = "repeated_unresolved"
	ReasonNoContext        EscalationReason = "no_context"
	ReasonUnavailable      EscalationReason = "dependency_unavailable"
)

// EscalationDecision is the evaluator's output for a turn.
type EscalationDecision struct {
	Trigger bool
	Reason  EscalationReason
	// CollectEmail asks for a contact address before completing the handoff.
	CollectEmail bool
}

// Turn is the mutable per-turn unit flowing through the generation graph.
type Turn struct {
	Input          QueryInput
	Conversation   *Conversation
	History        []*schema.Message
	Classification Classification
	Chunks         []RetrievedChunk
	Context        *FormattedContext
	Candidate      *AnswerCandidate
	// ForcedReason short-circuits the evaluator for fail-safe paths.
	ForcedReason EscalationReason
	// ContactEmail is set when the turn captured an address for a pending
	// contact request.
	ContactEmail string
}

// Fixed user-facing texts for fail-safe paths.
const (
	DegradedAnswerText = "I'm having trouble reaching our systems right now, so I can't answer reliably. I've flagged this conversation for a human teammate who will follow up shortly."
	RefusalAnswerText  = "I'm not able to help with that request. I've asked a human teammate to take over this conversation."
	HandoffAckText     = "Of course. I'm connecting you with a human teammate who will take it from here."
	EmailRequestText   = "I'd like to hand this over to a human teammate. Could you share an email address where we can reach you?"
	EmailThanksText    = "Thanks! A human teammate will reach out to you at %s shortly. Your ticket number is %s."
)

// GenerationProvider is one text-generation capability. The drafter and the
// reviewer are two instances of this interface.
type GenerationProvider interface {
	Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
}
