package knowledge

import (
	"strings"
	"unicode"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// MatchFunc picks the entry that answers question, or nil. entries arrive
// oldest first.
type MatchFunc func(question string, entries []*protocol.KnowledgeEntry) *protocol.KnowledgeEntry

// SubstringMatch matches when either question contains the other, ignoring
// case. The oldest matching entry wins.
func SubstringMatch(question string, entries []*protocol.KnowledgeEntry) *protocol.KnowledgeEntry {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return nil
	}
	for _, e := range entries {
		eq := strings.ToLower(strings.TrimSpace(e.Question))
		if eq == "" {
			continue
		}
		if strings.Contains(q, eq) || strings.Contains(eq, q) {
			return e
		}
	}
	return nil
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
