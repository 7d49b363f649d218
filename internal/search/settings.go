package search

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Tunable defaults.
const (
	DefaultMaxResults              = 10
	DefaultClusterThreshold        = 0.8
	DefaultRerankTopK              = 20
	DefaultShortQueryRunes         = 40
	DefaultMinFeedbackSamples      = 20
	DefaultAdaptiveMinResults      = 3
	DefaultSupplementalScoreFactor = 0.5
	DefaultCandidateMultiplier     = 2
	DefaultMaxParallelCollections  = 5
	DefaultBackendTimeout          = 2 * time.Second
	DefaultRequestTimeout          = 10 * time.Second
	DefaultCacheTTL                = time.Hour
	DefaultCacheCapacity           = 1000
	MaxResultsLimit                = 100
)

// Settings are the engine parameters that can change at runtime.
type Settings struct {
	Weights                 Weights       `json:"weights" yaml:"weights"`
	MaxResults              int           `json:"max_results" yaml:"max_results"`
	MinScore                float64       `json:"min_score" yaml:"min_score"`
	ClusterThreshold        float64       `json:"cluster_threshold" yaml:"cluster_threshold"`
	RerankTopK              int           `json:"rerank_top_k" yaml:"rerank_top_k"`
	ShortQueryRunes         int           `json:"short_query_runes" yaml:"short_query_runes"`
	MinFeedbackSamples      int64         `json:"min_feedback_samples" yaml:"min_feedback_samples"`
	AdaptiveMinResults      int           `json:"adaptive_min_results" yaml:"adaptive_min_results"`
	SupplementalScoreFactor float64       `json:"supplemental_score_factor" yaml:"supplemental_score_factor"`
	CacheTTL                time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheCapacity           int           `json:"cache_capacity" yaml:"cache_capacity"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		Weights:                 DefaultWeights(),
		MaxResults:              DefaultMaxResults,
		ClusterThreshold:        DefaultClusterThreshold,
		RerankTopK:              DefaultRerankTopK,
		ShortQueryRunes:         DefaultShortQueryRunes,
		MinFeedbackSamples:      DefaultMinFeedbackSamples,
		AdaptiveMinResults:      DefaultAdaptiveMinResults,
		SupplementalScoreFactor: DefaultSupplementalScoreFactor,
		CacheTTL:                DefaultCacheTTL,
		CacheCapacity:           DefaultCacheCapacity,
	}
}

// Validate checks every setting's range.
func (s Settings) Validate() error {
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	if s.Weights.Semantic+s.Weights.FullText == 0 {
		return kberrors.InvalidQuery("default weights cannot both be zero")
	}
	switch {
	case s.MaxResults < 1 || s.MaxResults > MaxResultsLimit:
		return kberrors.InvalidQuery("max_results %d outside [1, %d]", s.MaxResults, MaxResultsLimit)
	case s.MinScore < 0 || s.MinScore > 1:
		return kberrors.InvalidQuery("min_score %g outside [0, 1]", s.MinScore)
	case s.ClusterThreshold < 0 || s.ClusterThreshold > 1:
		return kberrors.InvalidQuery("cluster_threshold %g outside [0, 1]", s.ClusterThreshold)
	case s.RerankTopK < 1:
		return kberrors.InvalidQuery("rerank_top_k must be positive")
	case s.ShortQueryRunes < 0:
		return kberrors.InvalidQuery("short_query_runes must not be negative")
	case s.MinFeedbackSamples < 0:
		return kberrors.InvalidQuery("min_feedback_samples must not be negative")
	case s.AdaptiveMinResults < 0:
		return kberrors.InvalidQuery("adaptive_min_results must not be negative")
	case s.SupplementalScoreFactor < 0 || s.SupplementalScoreFactor > 1:
		return kberrors.InvalidQuery("supplemental_score_factor %g outside [0, 1]", s.SupplementalScoreFactor)
	case s.CacheTTL <= 0:
		return kberrors.InvalidQuery("cache_ttl must be positive")
	case s.CacheCapacity < 0:
		return kberrors.InvalidQuery("cache_capacity must not be negative")
	}
	return nil
}

// Setting keys as persisted in the settings table.
const (
	KeySemanticWeight          = "weights.semantic"
	KeyFullTextWeight          = "weights.fulltext"
	KeyMaxResults              = "max_results"
	KeyMinScore                = "min_score"
	KeyClusterThreshold        = "cluster_threshold"
	KeyRerankTopK              = "rerank_top_k"
	KeyShortQueryRunes         = "short_query_runes"
	KeyMinFeedbackSamples      = "min_feedback_samples"
	KeyAdaptiveMinResults      = "adaptive_min_results"
	KeySupplementalScoreFactor = "supplemental_score_factor"
	KeyCacheTTL                = "cache_ttl"
	KeyCacheCapacity           = "cache_capacity"
)

// SettingKeys lists every persisted key, sorted.
func SettingKeys() []string {
	return slices.Sorted(maps.Keys(DefaultSettings().Map()))
}

// Map flattens s into persisted key/value pairs.
func (s Settings) Map() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		KeySemanticWeight:          f(s.Weights.Semantic),
		KeyFullTextWeight:          f(s.Weights.FullText),
		KeyMaxResults:              strconv.Itoa(s.MaxResults),
		KeyMinScore:                f(s.MinScore),
		KeyClusterThreshold:        f(s.ClusterThreshold),
		KeyRerankTopK:              strconv.Itoa(s.RerankTopK),
		KeyShortQueryRunes:         strconv.Itoa(s.ShortQueryRunes),
		KeyMinFeedbackSamples:      strconv.FormatInt(s.MinFeedbackSamples, 10),
		KeyAdaptiveMinResults:      strconv.Itoa(s.AdaptiveMinResults),
		KeySupplementalScoreFactor: f(s.SupplementalScoreFactor),
		KeyCacheTTL:                s.CacheTTL.String(),
		KeyCacheCapacity:           strconv.Itoa(s.CacheCapacity),
	}
}

// Apply overlays persisted key/value pairs onto s. Unknown keys are an error.
func (s Settings) Apply(kv map[string]string) (Settings, error) {
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		if err := s.set(k, kv[k]); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s *Settings) set(key, value string) error {
	var err error
	switch key {
	case KeySemanticWeight:
		s.Weights.Semantic, err = strconv.ParseFloat(value, 64)
	case KeyFullTextWeight:
		s.Weights.FullText, err = strconv.ParseFloat(value, 64)
	case KeyMaxResults:
		s.MaxResults, err = strconv.Atoi(value)
	case KeyMinScore:
		s.MinScore, err = strconv.ParseFloat(value, 64)
	case KeyClusterThreshold:
		s.ClusterThreshold, err = strconv.ParseFloat(value, 64)
	case KeyRerankTopK:
		s.RerankTopK, err = strconv.Atoi(value)
	case KeyShortQueryRunes:
		s.ShortQueryRunes, err = strconv.Atoi(value)
	case KeyMinFeedbackSamples:
		s.MinFeedbackSamples, err = strconv.ParseInt(value, 10, 64)
	case KeyAdaptiveMinResults:
		s.AdaptiveMinResults, err = strconv.Atoi(value)
	case KeySupplementalScoreFactor:
		s.SupplementalScoreFactor, err = strconv.ParseFloat(value, 64)
	case KeyCacheTTL:
		s.CacheTTL, err = time.ParseDuration(value)
	case KeyCacheCapacity:
		s.CacheCapacity, err = strconv.Atoi(value)
	default:
		return kberrors.InvalidQuery("unknown setting %q", key)
	}
	if err != nil {
		return kberrors.InvalidQuery("setting %s: %s", key, fmt.Sprint(err))
	}
	return nil
}
