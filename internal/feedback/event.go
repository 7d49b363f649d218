// Package feedback attributes user feedback to the collection and strategy
// that produced a result, and keeps the per-strategy statistics the
// strategy selector reads.
package feedback

import (
	"fmt"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// Kind is the type of a feedback event.
type Kind string

const (
	KindLike     Kind = "like"
	KindDislike  Kind = "dislike"
	KindRating   Kind = "rating"
	KindComment  Kind = "comment"
	KindDetailed Kind = "detailed"
)

// ParseKind validates a feedback kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLike, KindDislike, KindRating, KindComment, KindDetailed:
		return k, nil
	default:
		return "", kberrors.Newf(kberrors.ErrCodeInvalidFeedback,
			"unknown feedback kind %q (want like, dislike, rating, comment or detailed)", s)
	}
}

// Polarity is the direction a feedback event moves the positive ratio.
type Polarity int

const (
	Negative Polarity = -1
	Neutral  Polarity = 0
	Positive Polarity = 1
)

// String returns the polarity label used in metrics.
func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "neutral"
	}
}

// Event is one piece of user feedback on an emitted result.
type Event struct {
	ID        string    `json:"id,omitempty"`
	ResultID  string    `json:"result_id"`
	Kind      Kind      `json:"kind"`
	Rating    *float64  `json:"rating,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Collection and Strategy attribute the event explicitly. When empty the
	// aggregator resolves them from the result id.
	Collection string            `json:"collection,omitempty"`
	Strategy   strategy.Strategy `json:"strategy,omitempty"`
}

// Rating scale bounds.
const (
	DefaultRatingMin      = 1.0
	DefaultRatingMax      = 5.0
	DefaultRatingMidpoint = 3.0
)

// Scale describes the accepted rating range and the positive threshold.
type Scale struct {
	Min      float64
	Max      float64
	Midpoint float64
}

// DefaultScale is the 1-5 scale with 3 as the positive threshold.
func DefaultScale() Scale {
	return Scale{Min: DefaultRatingMin, Max: DefaultRatingMax, Midpoint: DefaultRatingMidpoint}
}

// Validate checks an event against the scale.
func (s Scale) Validate(ev Event) error {
	if strings.TrimSpace(ev.ResultID) == "" {
		return kberrors.New(kberrors.ErrCodeInvalidFeedback, "result id is required", nil)
	}
	if _, err := ParseKind(string(ev.Kind)); err != nil {
		return err
	}
	if ev.Kind == KindRating && ev.Rating == nil {
		return kberrors.New(kberrors.ErrCodeInvalidFeedback, "rating feedback requires a rating", nil)
	}
	if ev.Rating != nil && (*ev.Rating < s.Min || *ev.Rating > s.Max) {
		return kberrors.Newf(kberrors.ErrCodeInvalidFeedback,
			"rating %s outside [%g, %g]", fmt.Sprint(*ev.Rating), s.Min, s.Max)
	}
	if ev.Strategy != "" && !ev.Strategy.IsConcrete() {
		return kberrors.Newf(kberrors.ErrCodeInvalidFeedback, "cannot attribute feedback to strategy %q", ev.Strategy)
	}
	return nil
}

// Classify maps an event to a polarity. Likes and ratings at or above the
// midpoint are positive; comments and detailed feedback count only
// through an attached rating.
func (s Scale) Classify(ev Event) Polarity {
	switch ev.Kind {
	case KindLike:
		return Positive
	case KindDislike:
		return Negative
	}
	if ev.Rating == nil {
		return Neutral
	}
	if *ev.Rating >= s.Midpoint {
		return Positive
	}
	return Negative
}
