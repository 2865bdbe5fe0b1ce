package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aidesk-core/server/internal/agent/model"
)

// DefaultMaxContextChars bounds the assembled context size.
const DefaultMaxContextChars = 8000

// Assemble formats retrieved chunks into a single source-tagged context block
// within the character budget. Chunks are consumed in ranked order; a chunk
// whose tagged excerpt does not fit ends assembly, except the first chunk
// which is truncated to fit so one retrieved chunk never yields an empty
// context. Chunks whose content duplicates the edge of an already included
// chunk are skipped. Returns nil when no chunks are given.
func Assemble(chunks []model.RetrievedChunk, maxChars int) *model.FormattedContext {
	if len(chunks) == 0 {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	var b strings.Builder
	fc := &model.FormattedContext{}

	for _, chunk := range chunks {
		if isEdgeDuplicate(chunk.Content, fc.Chunks) {
			continue
		}

		header := fmt.Sprintf("[%s] (similarity %.2f)\n", sourceLabel(chunk), chunk.Similarity)
		excerpt := chunk.Content
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n"
		}

		used := len(excerpt)
		if b.Len()+len(sep)+len(header)+used > maxChars {
			if len(fc.Chunks) > 0 {
				break
			}
			// first chunk: truncate the excerpt into the budget
			used = maxChars - len(header)
			if used <= 0 {
				used = 0
			}
			used = truncAtRuneBoundary(excerpt, used)
			excerpt = excerpt[:used]
		}

		b.WriteString(sep)
		b.WriteString(header)
		b.WriteString(excerpt)

		fc.Chunks = append(fc.Chunks, chunk)
		fc.Segments = append(fc.Segments, model.ContextSegment{
			ChunkID: chunk.ID,
			Start:   0,
			End:     used,
		})
	}

	fc.Text = b.String()
	return fc
}

// truncAtRuneBoundary backs a byte cut position up so it never splits a
// multibyte rune.
func truncAtRuneBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

func sourceLabel(chunk model.RetrievedChunk) string {
	if chunk.Title != "" {
		return chunk.Title
	}
	if chunk.Filename != "" {
		return chunk.Filename
	}
	return chunk.ID
}

// isEdgeDuplicate reports whether content repeats the edge of an included
// chunk: one is a prefix or suffix of the other. Overlapping chunking makes
// these common; they add no information.
func isEdgeDuplicate(content string, included []model.RetrievedChunk) bool {
	for _, in := range included {
		if strings.HasPrefix(in.Content, content) || strings.HasSuffix(in.Content, content) {
			return true
		}
		if strings.HasPrefix(content, in.Content) || strings.HasSuffix(content, in.Content) {
			return true
		}
	}
	return false
}
