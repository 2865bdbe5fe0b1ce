package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/expr-lang/expr"

	errx "github.com/aidesk-core/server/internal/core/error"
)

// ToolCalculator is the tool name the draft model is prompted to call.
const ToolCalculator = "calculator"

const maxExpressionLen = 512

// exprCharset limits input to plain arithmetic before it reaches the
// evaluator. expr-lang can do far more than arithmetic; the guard keeps the
// tool's surface exactly what the prompt promises.
var exprCharset = regexp.MustCompile(`^[0-9+\-*/%().eE^ \t]+$`)

type CalculatorInput struct {
	Expression string `json:"expression"`
}

type CalculatorOutput struct {
	Expression string `json:"expression"`
	Result     string `json:"result"`
}

// Evaluate computes a plain arithmetic expression. Invalid input returns a
// typed permanent failure so callers can answer gracefully instead of
// retrying.
func Evaluate(expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "", errx.Permanent(errors.New("empty expression"), "nothing to evaluate")
	}
	if len(expression) > maxExpressionLen {
		return "", errx.Permanent(errors.New("expression too long"), "expression too long")
	}
	if !exprCharset.MatchString(expression) {
		return "", errx.Permanent(errors.New("disallowed characters"), "only plain arithmetic is supported")
	}

	program, err := expr.Compile(expression)
	if err != nil {
		return "", errx.Permanent(err, "could not parse expression")
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return "", errx.Permanent(err, "could not evaluate expression")
	}

	switch v := out.(type) {
	case int, int64, float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", errx.Permanent(fmt.Errorf("non-numeric result %T", out), "expression did not evaluate to a number")
	}
}

func createCalculatorTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCalculator,
			Desc: "Evaluate a plain arithmetic expression. Supports + - * / % ( ) and decimal numbers. Use this for any non-trivial computation instead of doing the math yourself.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"expression": {
					Type:     "string",
					Desc:     "The bare arithmetic expression, e.g. 2400*0.15 or (120+80)/4",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *CalculatorInput) (*CalculatorOutput, error) {
			result, err := Evaluate(in.Expression)
			if err != nil {
				return nil, err
			}
			return &CalculatorOutput{Expression: in.Expression, Result: result}, nil
		},
	)
}

// GetQueryTools returns the tools available while drafting an answer.
func GetQueryTools() []tool.BaseTool {
	return []tool.BaseTool{
		createCalculatorTool(),
	}
}

// GetToolInfos extracts ToolInfo from tools for model binding.
func GetToolInfos(ctx context.Context, ts []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
