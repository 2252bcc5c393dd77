package escalate

import "strings"

const DefaultCandidateCount = 3

// Stock phrases used to pad the candidate list when sampling comes up short.
var fallbackReplies = []string{
	"hey, sorry for going quiet — how have you been?",
	"hey! got caught up with things, what's new with you?",
	"sorry for the late reply, it's been a hectic stretch. how are things?",
}

// BuildCandidates dedupes the sampled replies case-insensitively, pads with
// the stock fallback phrases and truncates to k.
func BuildCandidates(sampled []string, k int) []string {
	if k <= 0 {
		k = DefaultCandidateCount
	}
	seen := make(map[string]bool, len(sampled))
	out := make([]string, 0, k)
	appendUnique := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		lower := strings.ToLower(s)
		if seen[lower] {
			return
		}
		seen[lower] = true
		out = append(out, s)
	}
	for _, s := range sampled {
		appendUnique(s)
	}
	for _, s := range fallbackReplies {
		if len(out) >= k {
			break
		}
		appendUnique(s)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}
