package services

import (
	"strings"
	"unicode/utf8"

	"github.com/greencredits/report-server/internal/models"
)

// Quality score weights. The maximum is the sum of the weights.
const (
	qualityPhoto        = 30
	qualityCoordinates  = 30
	qualityDescription  = 20
	qualityConfidence   = 10
	qualityDescMinChars = 20
)

// Estimated credit table, paid on resolution.
const (
	creditBase           = 10
	creditPhoto          = 10
	creditCoordinates    = 10
	creditDescription    = 10
	creditConfidence     = 10
	creditDescOverChars  = 50
	confidenceThreshold  = 0.8
	minDescriptionLength = 10
)

// QualityScore sums independent fixed bonuses for the signals present.
func QualityScore(sub *models.ReportSubmission) int {
	score := 0
	if len(sub.Photo) > 0 {
		score += qualityPhoto
	}
	if sub.Location.Known() {
		score += qualityCoordinates
	}
	if descLen(sub.Description) >= qualityDescMinChars {
		score += qualityDescription
	}
	if confident(sub.AIConfidence) {
		score += qualityConfidence
	}
	return score
}

// EstimateCredits computes the amount promised at submission and paid when
// the report is resolved.
func EstimateCredits(sub *models.ReportSubmission) int64 {
	credits := int64(creditBase)
	if len(sub.Photo) > 0 {
		credits += creditPhoto
	}
	if sub.Location.Known() {
		credits += creditCoordinates
	}
	if descLen(sub.Description) > creditDescOverChars {
		credits += creditDescription
	}
	if confident(sub.AIConfidence) {
		credits += creditConfidence
	}
	return credits
}

func descLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

func confident(c *float64) bool {
	return c != nil && *c >= confidenceThreshold
}
