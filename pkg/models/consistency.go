package models

import "strings"

// negativePhrases mark a short answer that denies the claim.
var negativePhrases = []string{
	"this claim is false",
	"the claim is false",
	"this claim is misleading",
	"the claim is misleading",
	"this is false",
	"is not true",
}

// affirmativePrefixes mark a short answer that endorses the claim.
var affirmativePrefixes = []string{
	"this claim is true",
	"the claim is true",
}

// VerdictConsistentWithProse reports whether the verdict agrees with the
// short answer's opening stance: a denial demands FALSE or MISLEADING, an
// endorsement demands TRUE. Answers that open neutrally are consistent with
// any verdict.
func VerdictConsistentWithProse(verdict Verdict, shortAnswer string) bool {
	lower := strings.ToLower(shortAnswer)

	for _, prefix := range affirmativePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return verdict == VerdictTrue
		}
	}
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return verdict == VerdictFalse || verdict == VerdictMisleading
		}
	}
	return true
}
