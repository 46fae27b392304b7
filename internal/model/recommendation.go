package model

// RecommendationKind distinguishes standard siting suggestions from gap zones.
type RecommendationKind string

const (
	RecommendationStandard RecommendationKind = "standard"
	RecommendationGapZone  RecommendationKind = "gap_zone"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is a suggested location for a new facility. For gap zones
// Type carries a subtype such as "school_gap" rather than a FacilityType.
type Recommendation struct {
	ID                 ID                 `json:"id"`
	Type               string             `json:"type,omitempty"`
	FacilityType       string             `json:"facility_type,omitempty"`
	RecommendationType RecommendationKind `json:"recommendation_type"`
	Priority           Priority           `json:"priority"`
	Coordinates        Coordinates        `json:"coordinates"`
	Score              float64            `json:"score"`
	EstimatedCoverage  int                `json:"estimated_coverage"`
	District           string             `json:"district,omitempty"`
}

// EffectiveType returns Type, or FacilityType when Type is absent.
func (r Recommendation) EffectiveType() string {
	if r.Type != "" {
		return r.Type
	}
	return r.FacilityType
}

// IsGapZone reports whether r is a gap-zone recommendation.
func (r Recommendation) IsGapZone() bool {
	return r.RecommendationType == RecommendationGapZone
}

// RecommendationParams are the query parameters for listing recommendations.
type RecommendationParams struct {
	FacilityType         string  `json:"facility_type"`
	MaxTravelTimeMinutes float64 `json:"max_travel_time"`
}

// RecommendationList is the recommendations endpoint payload.
type RecommendationList struct {
	Recommendations []Recommendation `json:"recommendations"`
	Statistics      map[string]any   `json:"statistics,omitempty"`
}
