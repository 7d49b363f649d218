package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

func rating(v float64) *float64 { return &v }

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Like ")
	require.NoError(t, err)
	assert.Equal(t, KindLike, k)

	_, err = ParseKind("love")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrInvalidFeedback)
}

func TestScale_Classify(t *testing.T) {
	s := DefaultScale()
	tests := []struct {
		name string
		ev   Event
		want Polarity
	}{
		{"like", Event{Kind: KindLike}, Positive},
		{"dislike", Event{Kind: KindDislike}, Negative},
		{"rating at midpoint", Event{Kind: KindRating, Rating: rating(3)}, Positive},
		{"rating above midpoint", Event{Kind: KindRating, Rating: rating(5)}, Positive},
		{"rating below midpoint", Event{Kind: KindRating, Rating: rating(2)}, Negative},
		{"comment alone", Event{Kind: KindComment, Comment: "meh"}, Neutral},
		{"comment with rating", Event{Kind: KindComment, Comment: "ok", Rating: rating(4)}, Positive},
		{"detailed low rating", Event{Kind: KindDetailed, Rating: rating(1)}, Negative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Classify(tt.ev))
		})
	}
}

func TestScale_Validate(t *testing.T) {
	s := DefaultScale()

	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"valid like", Event{ResultID: "r1", Kind: KindLike}, false},
		{"missing result", Event{Kind: KindLike}, true},
		{"unknown kind", Event{ResultID: "r1", Kind: "love"}, true},
		{"rating without value", Event{ResultID: "r1", Kind: KindRating}, true},
		{"rating too high", Event{ResultID: "r1", Kind: KindRating, Rating: rating(6)}, true},
		{"rating too low", Event{ResultID: "r1", Kind: KindRating, Rating: rating(0)}, true},
		{"auto strategy", Event{ResultID: "r1", Kind: KindLike, Strategy: strategy.Auto}, true},
		{"concrete strategy", Event{ResultID: "r1", Kind: KindLike, Strategy: strategy.Hybrid, Collection: "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, kberrors.ErrInvalidFeedback)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPolarity_String(t *testing.T) {
	assert.Equal(t, "positive", Positive.String())
	assert.Equal(t, "negative", Negative.String())
	assert.Equal(t, "neutral", Neutral.String())
}
