package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"", Auto},
		{"auto", Auto},
		{"Semantic", Semantic},
		{" fulltext ", FullText},
		{"keyword", FullText},
		{"hybrid", Hybrid},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("fuzzy")
	assert.Error(t, err)
}

func TestStrategy_Predicates(t *testing.T) {
	assert.False(t, Auto.IsConcrete())
	assert.True(t, Hybrid.IsConcrete())
	assert.True(t, Hybrid.UsesSemantic())
	assert.True(t, Hybrid.UsesFullText())
	assert.False(t, Semantic.UsesFullText())
	assert.False(t, FullText.UsesSemantic())

	for i, s := range Concrete {
		assert.Equal(t, i, s.Index())
		assert.NotEmpty(t, s.Description())
	}
}
