package parsers

import (
	"strings"

	"github.com/aidesk-core/server/internal/agent/model"
	logx "github.com/aidesk-core/server/pkg/logger"
)

var knownRoutes = map[string]model.RouteKind{
	"conversational":     model.RouteConversational,
	"kb_query":           model.RouteKBQuery,
	"math_query":         model.RouteMathQuery,
	"escalation_request": model.RouteEscalation,
}

// ParseRoute decodes the router's output:
//
//	(route<||><kind><||><confidence>)##(expression<||><arithmetic>)<|COMPLETE|>
//
// The expression record is only meaningful for math queries. Unparseable or
// missing route records fall back to a low-confidence conversational verdict;
// a broken router should never break the turn.
func ParseRoute(content string) (cls model.Classification) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "route_parser").Msgf("panic recovered: %v", r)
			cls = fallbackClassification()
		}
	}()

	cls = fallbackClassification()

	for _, rec := range splitRecords(content) {
		rt, err := parseRawTuple(rec)
		if err != nil {
			logx.Warn().Str("component", "route_parser").Str("record", safeSnippet(rec)).Msg("bad record")
			continue
		}

		switch rt.Type {
		case "route":
			if len(rt.Parts) < 3 {
				continue
			}
			kind, ok := knownRoutes[strings.TrimSpace(rt.Parts[1])]
			if !ok {
				logx.Warn().Str("component", "route_parser").Str("kind", safeSnippet(rt.Parts[1])).Msg("unknown route kind")
				continue
			}
			conf, err := parseFloatInRange(rt.Parts[2], "route.confidence", 0, 1)
			if err != nil {
				continue
			}
			cls.Kind = kind
			cls.Confidence = conf
		case "expression":
			if len(rt.Parts) < 2 {
				continue
			}
			cls.Expression = strings.TrimSpace(rt.Parts[1])
		}
	}

	if cls.Kind == model.RouteMathQuery && cls.Expression == "" {
		// a math route with nothing to evaluate is just conversation
		cls.Kind = model.RouteConversational
	}
	return cls
}

func fallbackClassification() model.Classification {
	return model.Classification{Kind: model.RouteConversational, Confidence: 0.5}
}
