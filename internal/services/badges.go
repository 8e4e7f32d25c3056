package services

import (
	"time"

	"github.com/greencredits/report-server/internal/models"
)

type badgeMetric int

const (
	byReports badgeMetric = iota
	byCredits
)

type badgeRule struct {
	key       string
	name      string
	icon      string
	metric    badgeMetric
	threshold int64
}

// badgeTable is ordered; next-badge progress follows this order.
var badgeTable = []badgeRule{
	{"first_report", "First Step", "🌱", byReports, 1},
	{"eco_warrior", "Eco Warrior", "♻️", byReports, 10},
	{"green_champion", "Green Champion", "🏆", byReports, 50},
	{"planet_hero", "Planet Hero", "🌍", byReports, 100},
	{"credit_collector", "Credit Collector", "💰", byCredits, 500},
	{"elite_guardian", "Elite Guardian", "👑", byCredits, 1000},
}

func (b badgeRule) value(reports, credits int64) int64 {
	if b.metric == byCredits {
		return credits
	}
	return reports
}

// qualifyingBadges returns every badge the metrics satisfy right now.
func qualifyingBadges(reports, credits int64, at time.Time) []models.Badge {
	var out []models.Badge
	for _, b := range badgeTable {
		if b.value(reports, credits) >= b.threshold {
			out = append(out, models.Badge{Key: b.key, Name: b.name, Icon: b.icon, EarnedAt: at})
		}
	}
	return out
}

// nextBadges lists unearned badges in table order with percent progress.
func nextBadges(earned []models.Badge, reports, credits int64) []models.BadgeProgress {
	have := make(map[string]bool, len(earned))
	for _, b := range earned {
		have[b.Key] = true
	}

	out := make([]models.BadgeProgress, 0)
	for _, b := range badgeTable {
		if have[b.key] {
			continue
		}
		pct := float64(b.value(reports, credits)) / float64(b.threshold) * 100
		if pct > 100 {
			pct = 100
		}
		out = append(out, models.BadgeProgress{
			Key: b.key, Name: b.name, Icon: b.icon,
			Threshold: b.threshold, Progress: pct,
		})
	}
	return out
}
