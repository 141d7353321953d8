// Package denial detects stored memories whose text is itself a refusal
// ("I don't know your name"). Such memories are noise for fact recall, so
// search can optionally suppress them. This is a hand-maintained heuristic
// with no precision/recall guarantee.
package denial

import "strings"

var phrases = []string{
	"don't have access",
	"don't know",
	"i don't have",
	"i'm sorry",
	"i cannot",
	"no access to personal data",
	"don't remember",
	"can't remember",
	"no memory of",
	"not familiar with",
	"haven't mentioned",
	"you haven't",
	"didn't tell me",
	"haven't told me",
	"haven't shared",
	"not provided",
	"haven't provided",
	"no information about",
	"would need you to",
	"please tell me",
	"feel free to share",
	"don't recall",
	"can't recall",
	"no record of",
	"not aware of",
}

// IsDenial reports whether the text reads as a refusal. Matching is a
// case-insensitive substring scan over the phrase list.
func IsDenial(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
