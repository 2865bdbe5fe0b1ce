package parsers

import (
	"fmt"
	"strings"

	"github.com/aidesk-core/server/internal/agent/model"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// ReviewResult is the decoded reviewer output.
type ReviewResult struct {
	Verdict    model.SafetyVerdict
	Confidence float64
	// Answer carries the replacement text for rewrite verdicts.
	Answer string
}

// ParseReview decodes the reviewer's output:
//
//	(verdict<||>pass|rewrite|reject<||><confidence>)##(answer<||><text>)<|COMPLETE|>
//
// Unparseable reviewer output is an error; the caller must treat it as a
// rejection rather than pass an unvalidated draft through.
func ParseReview(content string) (res *ReviewResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "review_parser").Msgf("panic recovered: %v", r)
			res, err = nil, fmt.Errorf("review parser panic")
		}
	}()

	out := &ReviewResult{}

	for _, rec := range splitRecords(content) {
		rt, rerr := parseRawTuple(rec)
		if rerr != nil {
			logx.Warn().Str("component", "review_parser").Str("record", safeSnippet(rec)).Msg("bad record")
			continue
		}

		switch rt.Type {
		case "verdict":
			if len(rt.Parts) < 3 {
				return nil, fmt.Errorf("verdict: insufficient parts")
			}
			switch strings.TrimSpace(rt.Parts[1]) {
			case "pass":
				out.Verdict = model.VerdictPass
			case "rewrite":
				out.Verdict = model.VerdictRewrite
			case "reject":
				out.Verdict = model.VerdictReject
			default:
				return nil, fmt.Errorf("verdict: unknown value %q", safeSnippet(rt.Parts[1]))
			}
			conf, cerr := parseFloatInRange(rt.Parts[2], "verdict.confidence", 0, 1)
			if cerr != nil {
				return nil, cerr
			}
			out.Confidence = conf
		case "answer":
			// rejoin so replacement text may contain the field delimiter
			out.Answer = strings.TrimSpace(strings.Join(rt.Parts[1:], tupDelim))
		}
	}

	if out.Verdict == "" {
		return nil, fmt.Errorf("missing verdict record")
	}
	if out.Verdict == model.VerdictRewrite && out.Answer == "" {
		return nil, fmt.Errorf("rewrite verdict without answer")
	}
	return out, nil
}
