package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/graph/nodes"
	"github.com/aidesk-core/server/internal/agent/graph/observers"
	"github.com/aidesk-core/server/internal/agent/graph/tools"
	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/resilience"
	"github.com/aidesk-core/server/internal/retrieval"
)

// maxRunSteps bounds a single turn: intake, router, retrieval, draft with its
// tool loop, review, finalize, plus headroom.
const maxRunSteps = 20

// Runner executes one conversation turn through the compiled graph.
type Runner interface {
	Invoke(ctx context.Context, turn *model.Turn) (*model.Turn, error)
}

// Config carries the dependencies needed to build the response graph.
type Config struct {
	Messages        *conversations.MessagesManager
	Providers       *nodes.ChatModels
	Resilience      *resilience.Registry
	Retriever       *retrieval.Coordinator
	PromptConfig    model.PromptConfig
	GenTimeout      time.Duration
	GenDependency   string
	MaxContextChars int
	ToolMaxCalls    int
}

type runner struct {
	compiled compose.Runnable[*model.Turn, *model.Turn]
}

func (r *runner) Invoke(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
	return r.compiled.Invoke(ctx, turn, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildResponseGraph wires the per-turn pipeline:
//
//	intake -> router -> {retrieve -> draft, draft, math, escalation_intake, degraded}
//	draft -> review -> finalize; everything else -> finalize -> END
func BuildResponseGraph(ctx context.Context, cfg Config) (Runner, error) {
	deps := &nodes.Deps{
		Messages:        cfg.Messages,
		Providers:       cfg.Providers,
		Resilience:      cfg.Resilience,
		Retriever:       cfg.Retriever,
		PromptConfig:    cfg.PromptConfig,
		GenTimeout:      cfg.GenTimeout,
		GenDependency:   cfg.GenDependency,
		MaxContextChars: cfg.MaxContextChars,
		ToolMaxCalls:    cfg.ToolMaxCalls,
	}

	queryTools := tools.GetQueryTools()
	if err := deps.RegisterTools(ctx, queryTools); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	toolInfos, err := tools.GetToolInfos(ctx, queryTools)
	if err != nil {
		return nil, fmt.Errorf("collect tool infos: %w", err)
	}
	if err := cfg.Providers.BindToolsToDraftModel(ctx, toolInfos); err != nil {
		return nil, err
	}

	g := compose.NewGraph[*model.Turn, *model.Turn](
		compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
			return &model.AppState{}
		}),
	)

	if err := addNodes(g, deps); err != nil {
		return nil, err
	}
	if err := addEdges(g); err != nil {
		return nil, err
	}
	if err := addBranches(g); err != nil {
		return nil, err
	}

	compiled, err := g.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps))
	if err != nil {
		return nil, fmt.Errorf("compile response graph: %w", err)
	}
	return &runner{compiled: compiled}, nil
}

func addNodes(g *compose.Graph[*model.Turn, *model.Turn], deps *nodes.Deps) error {
	if err := g.AddLambdaNode(nodes.NodeIntake, nodes.NewIntakeNode(deps.Messages),
		compose.WithStatePreHandler(nodes.NewIntakePreHandler())); err != nil {
		return fmt.Errorf("add intake node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeRouter, nodes.NewRouterNode(deps)); err != nil {
		return fmt.Errorf("add router node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeRetrieve, nodes.NewRetrieveNode(deps)); err != nil {
		return fmt.Errorf("add retrieve node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeDraft, nodes.NewDraftNode(deps)); err != nil {
		return fmt.Errorf("add draft node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeReview, nodes.NewReviewNode(deps)); err != nil {
		return fmt.Errorf("add review node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeMath, nodes.NewMathNode()); err != nil {
		return fmt.Errorf("add math node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeEscalationIntake, nodes.NewEscalationIntakeNode()); err != nil {
		return fmt.Errorf("add escalation intake node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeDegraded, nodes.NewDegradedNode()); err != nil {
		return fmt.Errorf("add degraded node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeFinalize, nodes.NewFinalizeNode()); err != nil {
		return fmt.Errorf("add finalize node: %w", err)
	}
	return nil
}

func addEdges(g *compose.Graph[*model.Turn, *model.Turn]) error {
	edges := [][2]string{
		{compose.START, nodes.NodeIntake},
		{nodes.NodeIntake, nodes.NodeRouter},
		{nodes.NodeRetrieve, nodes.NodeDraft},
		{nodes.NodeDraft, nodes.NodeReview},
		{nodes.NodeReview, nodes.NodeFinalize},
		{nodes.NodeMath, nodes.NodeFinalize},
		{nodes.NodeEscalationIntake, nodes.NodeFinalize},
		{nodes.NodeDegraded, nodes.NodeFinalize},
		{nodes.NodeFinalize, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}
	return nil
}

func addBranches(g *compose.Graph[*model.Turn, *model.Turn]) error {
	branch := compose.NewGraphBranch(nodes.NewRouteCondition(), map[string]bool{
		nodes.NodeRetrieve:         true,
		nodes.NodeDraft:            true,
		nodes.NodeMath:             true,
		nodes.NodeEscalationIntake: true,
		nodes.NodeDegraded:         true,
	})
	if err := g.AddBranch(nodes.NodeRouter, branch); err != nil {
		return fmt.Errorf("add router branch: %w", err)
	}
	return nil
}
