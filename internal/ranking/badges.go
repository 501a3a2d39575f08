package ranking

import "github.com/temcen/podrex/pkg/models"

const (
	BadgeHighCredibility = "high_credibility"
	BadgeHighInsight     = "high_insight"
	BadgeContrarian      = "contrarian"
	BadgeDataRich        = "data_rich"

	maxBadges = 2
)

// BadgesFor derives presentation badges from an episode's editorial scores.
// At most two are returned, in a fixed priority order so the same episode
// always carries the same badges.
func BadgesFor(ep *models.Episode) []string {
	var badges []string
	if ep.Credibility == 4 {
		badges = append(badges, BadgeHighCredibility)
	}
	if ep.Insight == 4 {
		badges = append(badges, BadgeHighInsight)
	}
	if ep.Insight >= 3 && ep.Credibility <= 2 {
		badges = append(badges, BadgeContrarian)
	}
	if ep.Combined() >= 7 {
		badges = append(badges, BadgeDataRich)
	}
	if len(badges) > maxBadges {
		badges = badges[:maxBadges]
	}
	return badges
}
