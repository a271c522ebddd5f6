package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/models"
)

// Weights is the scoring policy. Every field is a number of points out of
// 100; the total is clamped, so the table does not need to sum to exactly 100.
type Weights struct {
	PracticeArea int `json:"practiceArea"`
	State        int `json:"state"`
	// City only counts when the state also matches.
	City int `json:"city"`

	PlanFeatured int `json:"planFeatured"`
	PlanPremium  int `json:"planPremium"`
	PlanFree     int `json:"planFree"`

	Verified        int `json:"verified"`
	Rating          int `json:"rating"`
	Language        int `json:"language"`
	ExperienceMax   int `json:"experienceMax"`
	ResponseTimeMax int `json:"responseTimeMax"`

	UrgencyFeatured int `json:"urgencyFeatured"`
	UrgencyPremium  int `json:"urgencyPremium"`
	UrgencyFree     int `json:"urgencyFree"`

	// MismatchCeiling caps the score of a lawyer outside the lead's practice area.
	MismatchCeiling int `json:"mismatchCeiling"`
}

// DefaultWeights is the canonical table.
func DefaultWeights() Weights {
	return Weights{
		PracticeArea:    30,
		State:           20,
		City:            10,
		PlanFeatured:    20,
		PlanPremium:     12,
		PlanFree:        4,
		Verified:        5,
		Rating:          5,
		Language:        5,
		ExperienceMax:   5,
		ResponseTimeMax: 5,
		UrgencyFeatured: 10,
		UrgencyPremium:  6,
		UrgencyFree:     2,
		MismatchCeiling: 20,
	}
}

// Apply overrides weights by their JSON name.
func (w *Weights) Apply(overrides map[string]int) error {
	fields := map[string]*int{
		"practiceArea":    &w.PracticeArea,
		"state":           &w.State,
		"city":            &w.City,
		"planFeatured":    &w.PlanFeatured,
		"planPremium":     &w.PlanPremium,
		"planFree":        &w.PlanFree,
		"verified":        &w.Verified,
		"rating":          &w.Rating,
		"language":        &w.Language,
		"experienceMax":   &w.ExperienceMax,
		"responseTimeMax": &w.ResponseTimeMax,
		"urgencyFeatured": &w.UrgencyFeatured,
		"urgencyPremium":  &w.UrgencyPremium,
		"urgencyFree":     &w.UrgencyFree,
		"mismatchCeiling": &w.MismatchCeiling,
	}
	for name, v := range overrides {
		p, ok := fields[name]
		if !ok {
			return fmt.Errorf("unknown scoring weight %q", name)
		}
		if v < 0 {
			return fmt.Errorf("scoring weight %q must not be negative", name)
		}
		*p = v
	}
	return nil
}

// Scorer computes lawyer/lead compatibility. It is pure: no I/O and no clock.
type Scorer struct {
	Weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{Weights: w}
}

// Score returns a value in [0,100].
func (s *Scorer) Score(lawyer *models.Lawyer, lead *models.Lead) int {
	w := s.Weights
	score := 0

	areaMatch := lawyer.Practices(lead.PracticeAreaID)
	if areaMatch {
		score += w.PracticeArea
	}

	if sameFold(lawyer.State, lead.State) {
		score += w.State
		if sameFold(lawyer.City, lead.City) {
			score += w.City
		}
	}

	score += s.planPoints(lawyer.Plan)

	if lawyer.Verified {
		score += w.Verified
	}
	score += ratingPoints(lawyer.Rating, w.Rating)
	if speaks(lawyer.Languages, lead.Language) {
		score += w.Language
	}
	score += experiencePoints(lawyer.YearsExperience, w.ExperienceMax)
	score += responsePoints(lawyer.ResponseTimeMinutes, w.ResponseTimeMax)

	if lead.Urgency.Pressing() {
		score += s.urgencyPoints(lawyer.Plan)
	}

	if !areaMatch && score > w.MismatchCeiling {
		score = w.MismatchCeiling
	}
	return clamp(score, 0, 100)
}

func (s *Scorer) planPoints(p models.Plan) int {
	switch p {
	case models.PlanFeatured:
		return s.Weights.PlanFeatured
	case models.PlanPremium:
		return s.Weights.PlanPremium
	case models.PlanFree:
		return s.Weights.PlanFree
	}
	return 0
}

func (s *Scorer) urgencyPoints(p models.Plan) int {
	switch p {
	case models.PlanFeatured:
		return s.Weights.UrgencyFeatured
	case models.PlanPremium:
		return s.Weights.UrgencyPremium
	case models.PlanFree:
		return s.Weights.UrgencyFree
	}
	return 0
}

// Candidate is a scored lawyer for one lead.
type Candidate struct {
	Lawyer models.Lawyer `json:"lawyer"`
	Score  int           `json:"score"`
}

// Rank scores every lawyer and sorts best first. Ties break on faster
// response time, then on lawyer ID, so the order is total.
func (s *Scorer) Rank(lead *models.Lead, lawyers []models.Lawyer) []Candidate {
	out := make([]Candidate, 0, len(lawyers))
	for _, l := range lawyers {
		out = append(out, Candidate{Lawyer: l, Score: s.Score(&l, lead)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ri, rj := responseOrMax(out[i].Lawyer.ResponseTimeMinutes), responseOrMax(out[j].Lawyer.ResponseTimeMinutes)
		if ri != rj {
			return ri < rj
		}
		return uuidLess(out[i].Lawyer.ID, out[j].Lawyer.ID)
	})
	return out
}

func ratingPoints(rating float64, max int) int {
	if rating <= 0 {
		return 0
	}
	if rating >= 5 {
		return max
	}
	return int(math.Round(rating / 5 * float64(max)))
}

func experiencePoints(years, max int) int {
	switch {
	case years >= 10:
		return max
	case years >= 5:
		return max * 3 / 5
	case years >= 2:
		return max / 5
	}
	return 0
}

func responsePoints(minutes *int, max int) int {
	if minutes == nil {
		return 0
	}
	switch m := *minutes; {
	case m <= 60:
		return max
	case m <= 240:
		return max * 3 / 5
	case m <= 1440:
		return max / 5
	}
	return 0
}

var languageAliases = map[string]string{
	"pt":         "pt",
	"pt-br":      "pt",
	"portuguese": "pt",
	"português":  "pt",
	"portugues":  "pt",
	"en":         "en",
	"english":    "en",
	"inglês":     "en",
	"es":         "es",
	"spanish":    "es",
	"espanhol":   "es",
}

func normalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := languageAliases[s]; ok {
		return code
	}
	return s
}

// speaks reports whether the lawyer speaks the lead's language. Leads
// without a language are treated as Portuguese.
func speaks(languages []string, want string) bool {
	if want == "" {
		want = "pt"
	}
	want = normalizeLanguage(want)
	for _, l := range languages {
		if normalizeLanguage(l) == want {
			return true
		}
	}
	return false
}

func sameFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func responseOrMax(m *int) int {
	if m == nil {
		return math.MaxInt
	}
	return *m
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
