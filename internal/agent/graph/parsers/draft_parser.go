package parsers

import (
	"strings"

	logx "github.com/aidesk-core/server/pkg/logger"
)

// metaSeparator splits the drafter's answer text from its trailing metadata
// block.
const metaSeparator = "\n---\n"

// DraftResult is the decoded drafter output.
type DraftResult struct {
	Text       string
	Confidence float64
	Citations  []string
}

// ParseDraft decodes the drafter's output: free answer text, then a "---"
// line, then metadata records:
//
//	(confidence<||>0.82)##(cite<||>chunk-id)<|COMPLETE|>
//
// A draft without a metadata block is still usable; it gets a conservative
// confidence and no citations.
func ParseDraft(content string) (res DraftResult) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "draft_parser").Msgf("panic recovered: %v", r)
			res = DraftResult{Text: strings.TrimSpace(content), Confidence: 0.5}
		}
	}()

	if idx := strings.Index(content, endDelim); idx >= 0 {
		content = content[:idx]
	}

	res = DraftResult{Confidence: 0.5}

	idx := strings.LastIndex(content, metaSeparator)
	if idx < 0 {
		res.Text = strings.TrimSpace(content)
		return res
	}

	res.Text = strings.TrimSpace(content[:idx])
	meta := content[idx+len(metaSeparator):]

	for _, rec := range splitRecords(meta) {
		rt, err := parseRawTuple(rec)
		if err != nil {
			logx.Warn().Str("component", "draft_parser").Str("record", safeSnippet(rec)).Msg("bad record")
			continue
		}

		switch rt.Type {
		case "confidence":
			if len(rt.Parts) < 2 {
				continue
			}
			if conf, err := parseFloatInRange(rt.Parts[1], "draft.confidence", 0, 1); err == nil {
				res.Confidence = conf
			}
		case "cite":
			if len(rt.Parts) < 2 {
				continue
			}
			id := strings.TrimSpace(rt.Parts[1])
			if id != "" && mustValidUTF8(id, "draft.cite") == nil {
				res.Citations = append(res.Citations, id)
			}
		}
	}

	if res.Text == "" {
		// the model put everything below the separator; salvage nothing
		res.Text = strings.TrimSpace(content[:idx])
	}
	return res
}
