package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictConsistentWithProse(t *testing.T) {
	tests := []struct {
		name        string
		verdict     Verdict
		shortAnswer string
		want        bool
	}{
		{"negative phrase with FALSE", VerdictFalse, "Despite its popularity, this claim is false because no manuscript supports it.", true},
		{"negative phrase with MISLEADING", VerdictMisleading, "This claim is misleading: it conflates two different councils.", true},
		{"negative phrase with TRUE", VerdictTrue, "On inspection this claim is false.", false},
		{"affirmative opening with TRUE", VerdictTrue, "This claim is true. Luke demonstrably drew on Mark.", true},
		{"affirmative opening with FALSE", VerdictFalse, "This claim is true in outline.", false},
		{"neutral prose with any verdict", VerdictUnfalsifiable, "No evidence could settle this either way.", true},
		{"neutral prose with DEPENDS", VerdictDepends, "Everything turns on what counts as a census.", true},
		{"case insensitive", VerdictFalse, "THIS CLAIM IS FALSE, full stop.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerdictConsistentWithProse(tt.verdict, tt.shortAnswer))
		})
	}
}

func TestVerdictIsValid(t *testing.T) {
	for _, v := range ValidVerdicts {
		assert.True(t, v.IsValid())
	}
	assert.False(t, Verdict("MAYBE").IsValid())
	assert.False(t, Verdict("").IsValid())
}

func TestClaimTypeCategoryIsValid(t *testing.T) {
	assert.True(t, ClaimTypeCategory("").IsValid(), "uncategorized is allowed")
	assert.True(t, CategoryEpistemology.IsValid())
	assert.False(t, ClaimTypeCategory("ASTROLOGY").IsValid())
}
