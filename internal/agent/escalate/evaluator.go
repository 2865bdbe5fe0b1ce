package escalate

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/aidesk-core/server/internal/agent/model"
)

// Evaluator decides whether a turn should hand off to a human.
type Evaluator struct {
	confidenceThreshold float64
	zeroChunkThreshold  float64
	repeatLimit         int
	duplicateDistance   float64
}

func NewEvaluator(config model.EscalationConfig) *Evaluator {
	return &Evaluator{
		confidenceThreshold: config.ConfidenceThreshold,
		zeroChunkThreshold:  config.ZeroChunkThreshold,
		repeatLimit:         config.RepeatLimit,
		duplicateDistance:   config.DuplicateDistance,
	}
}

// Evaluate applies the escalation policy to a completed turn. history is the
// durable transcript up to and including the current user message.
func (e *Evaluator) Evaluate(turn *model.Turn, conv *model.Conversation, history []model.Message) model.EscalationDecision {
	// fail-safe paths already decided; system failures never stall on a
	// contact request the user may not answer
	switch turn.ForcedReason {
	case model.ReasonUnavailable, model.ReasonReviewRejected:
		return model.EscalationDecision{Trigger: true, Reason: turn.ForcedReason}
	case model.ReasonUserRequested:
		return e.withContactGate(conv, turn.ForcedReason)
	}

	if e.isRepeatedQuestion(turn.Input.Message, history) {
		return e.withContactGate(conv, model.ReasonRepeatedQuestion)
	}

	confidence := 0.0
	if turn.Candidate != nil {
		confidence = turn.Candidate.Confidence
	}

	// an answer drafted without any retrieved grounding needs to clear a
	// higher bar
	if turn.Classification.Kind == model.RouteKBQuery && len(turn.Chunks) == 0 {
		if confidence < e.zeroChunkThreshold {
			return e.withContactGate(conv, model.ReasonNoContext)
		}
		return model.EscalationDecision{}
	}

	if confidence < e.confidenceThreshold {
		return e.withContactGate(conv, model.ReasonLowConfidence)
	}
	return model.EscalationDecision{}
}

func (e *Evaluator) withContactGate(conv *model.Conversation, reason model.EscalationReason) model.EscalationDecision {
	return model.EscalationDecision{
		Trigger:      true,
		Reason:       reason,
		CollectEmail: conv == nil || conv.ContactEmail == "",
	}
}

// isRepeatedQuestion counts near-duplicates of the current message among the
// user's earlier messages. Hitting the limit means the answers are not landing.
func (e *Evaluator) isRepeatedQuestion(current string, history []model.Message) bool {
	if e.repeatLimit <= 0 {
		return false
	}

	normalized := normalizeQuestion(current)
	if normalized == "" {
		return false
	}

	// the current message is already in the transcript, so it counts itself
	count := 0
	for _, msg := range history {
		if msg.Sender != model.SenderUser {
			continue
		}
		if normalizedDistance(normalized, normalizeQuestion(msg.Content)) <= e.duplicateDistance {
			count++
		}
	}
	return count >= e.repeatLimit
}

func normalizeQuestion(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizedDistance is the levenshtein distance scaled by the longer length,
// so 0 means identical and 1 means entirely different.
func normalizedDistance(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}
