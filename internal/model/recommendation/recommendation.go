package recommendation

import "time"

// Product is a financial product offered by the recommender.
type Product struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Recommendation ranks one product for the persona.
type Recommendation struct {
	Product     Product `json:"product"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// NewsItem is supporting market news shown next to the recommendations.
type NewsItem struct {
	Title   string     `json:"title"`
	Summary string     `json:"summary"`
	Date    *time.Time `json:"date,omitempty"`
}

// Set is the terminal artifact of a completed onboarding session.
type Set struct {
	Recommendations []Recommendation `json:"recommendations"`
	News            []NewsItem       `json:"news"`
	// Sample marks a set synthesised locally instead of served by the recommender.
	Sample bool `json:"sample,omitempty"`
}

// Empty reports whether the set holds no recommendations.
func (s Set) Empty() bool {
	return len(s.Recommendations) == 0
}
