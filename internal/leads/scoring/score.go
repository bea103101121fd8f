// Package scoring ranks leads so agents work the hottest ones first.
package scoring

import (
	"strings"

	"autotext_backend/internal/leads/domain"
)

// Source quality tiers. Referrals and website form fills close far more
// often than bulk list imports.
var sourceWeights = map[string]int{
	"referral":    25,
	"website":     20,
	"walk_in":     20,
	"sms_inbound": 15,
	"autotrader":  10,
	"cargurus":    10,
	"facebook":    5,
	"import":      0,
}

const (
	baseScore = 30
	maxScore  = 100
)

// Score computes a 0-100 engagement score from what we know about the
// lead. Recomputed whenever the inputs change; never stored history.
func Score(lead domain.Lead) int {
	score := baseScore

	if w, ok := sourceWeights[strings.ToLower(lead.Source)]; ok {
		score += w
	}
	if lead.VehicleInterest != "" {
		score += 15
	}
	if lead.Email != "" {
		score += 5
	}
	if lead.HasReplied {
		score += 25
	}
	if lead.OptedInForAI {
		score += 5
	}
	if lead.OptedOut {
		score = 0
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}
