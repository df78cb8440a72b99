// Package models defines the core data structures for GiftFlow.
//
// This file holds the post-task survey instrument: six NASA-TLX subscales
// and six Likert items (UMUX-Lite plus study-specific items).
package models

import "fmt"

// Survey scale bounds
const (
	// TLXMin is the lower bound of a NASA-TLX subscale value.
	TLXMin = 0
	// TLXMax is the upper bound of a NASA-TLX subscale value.
	TLXMax = 20
	// LikertMin is the lower bound of a Likert item value.
	LikertMin = 1
	// LikertMax is the upper bound of a Likert item value.
	LikertMax = 7
)

// SurveyAnswers holds the participant's post-task survey responses.
// Fields are pointers so an unanswered item is distinguishable from zero.
type SurveyAnswers struct {
	TLXMental      *int `json:"tlx_mental"`
	TLXPhysical    *int `json:"tlx_physical"`
	TLXTemporal    *int `json:"tlx_temporal"`
	TLXPerformance *int `json:"tlx_performance"`
	TLXEffort      *int `json:"tlx_effort"`
	TLXFrustration *int `json:"tlx_frustration"`
	UMUXReq        *int `json:"umux_req"`
	UMUXEasy       *int `json:"umux_easy"`
	PerceivedEff   *int `json:"peffort"`
	Trust          *int `json:"trust"`
	Control        *int `json:"control"`
	Satisfaction   *int `json:"satisfaction"`
}

// Survey validation errors
var (
	ErrSurveyFieldMissing = fmt.Errorf("survey field missing")
	ErrSurveyFieldRange   = fmt.Errorf("survey field out of range")
)

// surveyField pairs an item name with its value pointer and scale bounds.
type surveyField struct {
	name     string
	value    *int
	min, max int
}

// fields enumerates every survey item with its scale.
func (s *SurveyAnswers) fields() []surveyField {
	return []surveyField{
		{"tlx_mental", s.TLXMental, TLXMin, TLXMax},
		{"tlx_physical", s.TLXPhysical, TLXMin, TLXMax},
		{"tlx_temporal", s.TLXTemporal, TLXMin, TLXMax},
		{"tlx_performance", s.TLXPerformance, TLXMin, TLXMax},
		{"tlx_effort", s.TLXEffort, TLXMin, TLXMax},
		{"tlx_frustration", s.TLXFrustration, TLXMin, TLXMax},
		{"umux_req", s.UMUXReq, LikertMin, LikertMax},
		{"umux_easy", s.UMUXEasy, LikertMin, LikertMax},
		{"peffort", s.PerceivedEff, LikertMin, LikertMax},
		{"trust", s.Trust, LikertMin, LikertMax},
		{"control", s.Control, LikertMin, LikertMax},
		{"satisfaction", s.Satisfaction, LikertMin, LikertMax},
	}
}

// Validate checks that every survey item is present and within its scale.
// The returned error wraps ErrSurveyFieldMissing or ErrSurveyFieldRange and
// names the first offending item.
func (s *SurveyAnswers) Validate() error {
	for _, f := range s.fields() {
		if f.value == nil {
			return fmt.Errorf("%w: %s", ErrSurveyFieldMissing, f.name)
		}
		if *f.value < f.min || *f.value > f.max {
			return fmt.Errorf("%w: %s=%d (expected %d-%d)", ErrSurveyFieldRange, f.name, *f.value, f.min, f.max)
		}
	}
	return nil
}
