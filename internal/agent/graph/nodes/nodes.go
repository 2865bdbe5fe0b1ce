package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/graph/parsers"
	"github.com/aidesk-core/server/internal/agent/graph/prompts"
	"github.com/aidesk-core/server/internal/agent/graph/tools"
	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
	"github.com/aidesk-core/server/internal/resilience"
	"github.com/aidesk-core/server/internal/retrieval"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// Node names used when wiring the graph.
const (
	NodeIntake           = "intake"
	NodeRouter           = "router"
	NodeRetrieve         = "retrieve"
	NodeDraft            = "draft"
	NodeReview           = "review"
	NodeMath             = "math"
	NodeEscalationIntake = "escalation_intake"
	NodeDegraded         = "degraded"
	NodeFinalize         = "finalize"
)

// Deps bundles everything the nodes need.
type Deps struct {
	Messages        *conversations.MessagesManager
	Providers       *ChatModels
	Resilience      *resilience.Registry
	Retriever       *retrieval.Coordinator
	PromptConfig    model.PromptConfig
	GenTimeout      time.Duration
	GenDependency   string
	MaxContextChars int
	ToolMaxCalls    int

	invokableTools map[string]tool.InvokableTool
}

// RegisterTools indexes the invokable tools the draft loop may call.
func (d *Deps) RegisterTools(ctx context.Context, ts []tool.BaseTool) error {
	d.invokableTools = make(map[string]tool.InvokableTool, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return fmt.Errorf("tool info: %w", err)
		}
		inv, ok := t.(tool.InvokableTool)
		if !ok {
			return fmt.Errorf("tool %s is not invokable", info.Name)
		}
		d.invokableTools[info.Name] = inv
	}
	return nil
}

func (d *Deps) genDependency() string {
	if d.GenDependency == "" {
		return "generation"
	}
	return d.GenDependency
}

// NewIntakePreHandler resets per-turn graph state.
func NewIntakePreHandler() func(context.Context, *model.Turn, *model.AppState) (*model.Turn, error) {
	return func(ctx context.Context, in *model.Turn, s *model.AppState) (*model.Turn, error) {
		s.ConversationID = in.Input.ConversationID
		s.ToolCallCount = 0
		s.ToolCallLimitReached = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewIntakeNode records the user message into the prompt window and loads the
// window for downstream nodes.
func NewIntakeNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		if err := mm.RecordUserMessage(ctx, turn.Input.ConversationID, turn.Input.Message); err != nil {
			// the window is hot-path convenience, not a correctness dependency
			logx.Warn().Err(err).Str("conversation_id", turn.Input.ConversationID).Msg("failed to record user message in window")
		}

		window, err := mm.PromptWindow(ctx, turn.Input.ConversationID)
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", turn.Input.ConversationID).Msg("failed to load prompt window, continuing without history")
			window = []*schema.Message{schema.UserMessage(turn.Input.Message)}
		}
		if len(window) == 0 {
			window = []*schema.Message{schema.UserMessage(turn.Input.Message)}
		}
		turn.History = window
		return turn, nil
	})
}

var emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// handoffPhrases detect an explicit human request without a model round trip.
var handoffPhrases = []string{
	"talk to a human",
	"speak to a human",
	"talk to an agent",
	"speak to an agent",
	"speak with an agent",
	"talk to a person",
	"real person",
	"human agent",
	"customer representative",
	"human support",
}

func detectHandoffIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// NewRouterNode classifies the current message. Deterministic checks run
// first: an email-shaped reply to a pending contact request and explicit
// human requests skip the model entirely.
func NewRouterNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		message := turn.Input.Message

		if turn.Conversation != nil && turn.Conversation.PendingContact {
			if addr := emailPattern.FindString(message); addr != "" {
				turn.ContactEmail = addr
				turn.Classification = model.Classification{Kind: model.RouteContactReply, Confidence: 1}
				return turn, nil
			}
		}

		if detectHandoffIntent(message) {
			turn.Classification = model.Classification{Kind: model.RouteEscalation, Confidence: 0.99}
			return turn, nil
		}

		systemPrompt, err := prompts.RenderRouterSystem(ctx)
		if err != nil {
			return nil, fmt.Errorf("render router prompt: %w", err)
		}

		routerCtx, err := d.Messages.RouterContext(ctx, turn.Input.ConversationID, message)
		if err != nil {
			logx.Warn().Err(err).Msg("router context unavailable, classifying current message alone")
			routerCtx = "<current_message_to_classify>\nUserMessage(" + message + ")\n</current_message_to_classify>"
		}

		messages := []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(routerCtx),
		}

		resp, err := resilience.Do(ctx, d.Resilience, d.genDependency(), d.GenTimeout, func(ctx context.Context) (*schema.Message, error) {
			return d.Providers.Router.Generate(ctx, messages)
		})
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", turn.Input.ConversationID).Msg("router call failed, degrading turn")
			turn.Classification = model.Classification{Kind: model.RouteDegraded}
			return turn, nil
		}
		recordUsage(ctx, NodeRouter, d.Providers.RouterModelName, resp)

		turn.Classification = parsers.ParseRoute(resp.Content)
		logx.Debug().
			Str("conversation_id", turn.Input.ConversationID).
			Str("route", string(turn.Classification.Kind)).
			Float64("confidence", turn.Classification.Confidence).
			Msg("message routed")
		return turn, nil
	})
}

// NewRouteCondition maps the classification onto the next node.
func NewRouteCondition() func(context.Context, *model.Turn) (string, error) {
	return func(ctx context.Context, turn *model.Turn) (string, error) {
		switch turn.Classification.Kind {
		case model.RouteKBQuery:
			return NodeRetrieve, nil
		case model.RouteMathQuery:
			return NodeMath, nil
		case model.RouteEscalation, model.RouteContactReply:
			return NodeEscalationIntake, nil
		case model.RouteDegraded:
			return NodeDegraded, nil
		default:
			return NodeDraft, nil
		}
	}
}

// NewRetrieveNode runs retrieval and context assembly. An empty result simply
// leaves the turn without context; drafting degrades to conversational mode.
func NewRetrieveNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		turn.Chunks = d.Retriever.Retrieve(ctx, turn.Input.Message, turn.Input.KBID)
		turn.Context = retrieval.Assemble(turn.Chunks, d.MaxContextChars)
		return turn, nil
	})
}

// NewDraftNode generates the draft answer, running the tool loop inline so
// every model round trip stays behind the resilience layer.
func NewDraftNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		systemPrompt, err := prompts.RenderDraftSystem(ctx, d.PromptConfig, turn.Context)
		if err != nil {
			return nil, fmt.Errorf("render draft prompt: %w", err)
		}

		messages := make([]*schema.Message, 0, len(turn.History)+1)
		messages = append(messages, schema.SystemMessage(systemPrompt))
		messages = append(messages, turn.History...)

		var invocations []model.ToolInvocation
		maxCalls := normalizeMaxToolCalls(d.ToolMaxCalls)
		limitReached := false

		for {
			resp, gerr := resilience.Do(ctx, d.Resilience, d.genDependency(), d.GenTimeout, func(ctx context.Context) (*schema.Message, error) {
				return d.Providers.Draft.Generate(ctx, messages)
			})
			if gerr != nil {
				logx.Warn().Err(gerr).Str("conversation_id", turn.Input.ConversationID).Msg("draft call failed, degrading turn")
				return degradeTurn(turn), nil
			}
			recordUsage(ctx, NodeDraft, d.Providers.DraftModelName, resp)

			if len(resp.ToolCalls) == 0 || limitReached {
				res := parsers.ParseDraft(resp.Content)
				if strings.TrimSpace(res.Text) == "" {
					logx.Warn().Str("conversation_id", turn.Input.ConversationID).Msg("draft produced no text, degrading turn")
					return degradeTurn(turn), nil
				}
				turn.Candidate = &model.AnswerCandidate{
					Text:            res.Text,
					Confidence:      clampConfidence(res.Confidence),
					Citations:       res.Citations,
					ToolInvocations: invocations,
				}
				return turn, nil
			}

			normalizeToolCallIDs(ctx, resp)
			messages = append(messages, resp)

			exceeded := false
			compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
				exceeded = incrementToolCallAndCheck(state, maxCalls)
				return nil
			})

			for _, tc := range resp.ToolCalls {
				out := d.runTool(ctx, tc.Function.Name, tc.Function.Arguments)
				messages = append(messages, schema.ToolMessage(out, tc.ID))
				invocations = append(invocations, model.ToolInvocation{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
					Result:    out,
				})
			}

			if exceeded {
				limitReached = true
				messages = append(messages, &schema.Message{
					Role: schema.System,
					Content: fmt.Sprintf(
						"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
							"Please synthesize a helpful response using the information you've already gathered. "+
							"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
						maxCalls,
					),
				})
			}
		}
	})
}

func (d *Deps) runTool(ctx context.Context, name, arguments string) string {
	inv, ok := d.invokableTools[name]
	if !ok {
		// gracefully handle hallucinated or malformed tool calls
		logx.Warn().Str("tool_name", name).Str("arguments", arguments).Msg("unknown tool call, returning fallback result")
		return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q}", name)
	}

	out, err := inv.InvokableRun(ctx, arguments)
	if err != nil {
		logx.Warn().Err(err).Str("tool_name", name).Msg("tool execution failed")
		return fmt.Sprintf("{\"error\":%q}", errx.MessageOf(err))
	}
	return out
}

// normalizeToolCallIDs synthesizes tool_call ids when the provider omits them.
func normalizeToolCallIDs(ctx context.Context, out *schema.Message) {
	if out == nil || len(out.ToolCalls) == 0 {
		return
	}
	compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				state.ToolCallIDSeq++
				out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
			}
		}
		return nil
	})
}

// NewReviewNode validates the draft. Fail-safe paths pass through untouched;
// everything else gets a verdict, and a draft is never final without one.
func NewReviewNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		if turn.ForcedReason != "" {
			return turn, nil
		}
		if turn.Candidate == nil {
			return degradeTurn(turn), nil
		}

		systemPrompt, err := prompts.RenderReviewSystem(ctx, d.PromptConfig, turn.Context)
		if err != nil {
			return nil, fmt.Errorf("render review prompt: %w", err)
		}

		messages := []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(fmt.Sprintf("User question:\n%s\n\nDrafted answer:\n%s", turn.Input.Message, turn.Candidate.Text)),
		}

		resp, gerr := resilience.Do(ctx, d.Resilience, d.genDependency(), d.GenTimeout, func(ctx context.Context) (*schema.Message, error) {
			return d.Providers.Review.Generate(ctx, messages)
		})
		if gerr != nil {
			logx.Warn().Err(gerr).Str("conversation_id", turn.Input.ConversationID).Msg("review call failed, degrading turn")
			return degradeTurn(turn), nil
		}
		recordUsage(ctx, NodeReview, d.Providers.ReviewModelName, resp)

		res, perr := parsers.ParseReview(resp.Content)
		if perr != nil {
			// an unreadable verdict must not let an unvalidated draft through
			logx.Warn().Err(perr).Str("conversation_id", turn.Input.ConversationID).Msg("unparseable review verdict, rejecting draft")
			return rejectTurn(turn), nil
		}

		switch res.Verdict {
		case model.VerdictRewrite:
			turn.Candidate.Text = res.Answer
			turn.Candidate.Verdict = model.VerdictRewrite
			if res.Confidence < turn.Candidate.Confidence {
				turn.Candidate.Confidence = res.Confidence
			}
		case model.VerdictReject:
			return rejectTurn(turn), nil
		default:
			turn.Candidate.Verdict = model.VerdictPass
		}
		return turn, nil
	})
}

// NewMathNode answers arithmetic deterministically. A bad expression asks the
// user to rephrase rather than escalating.
func NewMathNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		expression := turn.Classification.Expression
		result, err := tools.Evaluate(expression)
		if err != nil {
			turn.Candidate = &model.AnswerCandidate{
				Text:       "I couldn't work that one out. Could you rephrase the calculation with plain numbers, like 2400 * 0.15?",
				Confidence: 0.6,
				Verdict:    model.VerdictPass,
			}
			return turn, nil
		}

		turn.Candidate = &model.AnswerCandidate{
			Text:       fmt.Sprintf("%s = %s", expression, result),
			Confidence: 0.98,
			Verdict:    model.VerdictPass,
			ToolInvocations: []model.ToolInvocation{
				{Name: tools.ToolCalculator, Arguments: expression, Result: result},
			},
		}
		return turn, nil
	})
}

// NewEscalationIntakeNode acknowledges an explicit human request. When the
// turn captured a contact address it confirms the callback instead.
func NewEscalationIntakeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		text := model.HandoffAckText
		if turn.ContactEmail != "" && turn.Conversation != nil {
			text = fmt.Sprintf(model.EmailThanksText, turn.ContactEmail, turn.Conversation.TicketNumber)
		}
		turn.Candidate = &model.AnswerCandidate{
			Text:       text,
			Confidence: 1,
			Verdict:    model.VerdictPass,
		}
		turn.ForcedReason = model.ReasonUserRequested
		return turn, nil
	})
}

// NewDegradedNode produces the fixed degraded answer when routing itself
// failed fast.
func NewDegradedNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		return degradeTurn(turn), nil
	})
}

// NewFinalizeNode clamps confidence, drops citations that do not point at a
// retrieved chunk, and logs the turn's accumulated model cost.
func NewFinalizeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		if turn.Candidate == nil {
			degradeTurn(turn)
		}
		turn.Candidate.Confidence = clampConfidence(turn.Candidate.Confidence)

		if len(turn.Candidate.Citations) > 0 {
			retrieved := make(map[string]bool, len(turn.Chunks))
			for _, c := range turn.Chunks {
				retrieved[c.ID] = true
			}
			kept := turn.Candidate.Citations[:0]
			for _, id := range turn.Candidate.Citations {
				if retrieved[id] {
					kept = append(kept, id)
				}
			}
			turn.Candidate.Citations = kept
		}

		compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Float64("total_cost_usd", state.TotalCostUSD).
				Int("tool_calls", state.ToolCallCount).
				Msg("turn complete")
			return nil
		})
		return turn, nil
	})
}

// degradeTurn installs the fixed degraded answer and forces escalation.
func degradeTurn(turn *model.Turn) *model.Turn {
	turn.Candidate = &model.AnswerCandidate{
		Text:       model.DegradedAnswerText,
		Confidence: 0,
		Verdict:    model.VerdictPass,
	}
	turn.ForcedReason = model.ReasonUnavailable
	return turn
}

// rejectTurn installs the safe refusal and forces escalation.
func rejectTurn(turn *model.Turn) *model.Turn {
	turn.Candidate = &model.AnswerCandidate{
		Text:       model.RefusalAnswerText,
		Confidence: 0,
		Verdict:    model.VerdictReject,
	}
	turn.ForcedReason = model.ReasonReviewRejected
	return turn
}

// recordUsage accumulates model cost in graph state and logs token usage.
func recordUsage(ctx context.Context, node, modelName string, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	pricing := model.ResolvePricing(modelName)
	inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)

	compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
		state.TotalCostUSD += totalC
		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("node", node).
			Str("model", modelName).
			Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
			Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
			Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
			Float64("input_cost_usd", inC).
			Float64("output_cost_usd", outC).
			Float64("total_cost_usd", totalC).
			Msg("LLM usage")
		return nil
	})
}
