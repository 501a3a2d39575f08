package ranking

import (
	"math"
	"time"

	"github.com/temcen/podrex/pkg/models"
)

// CosineSimilarity computes the cosine of the angle between two embeddings,
// accumulating in float64. Vectors of unequal or zero dimension fail with a
// DimensionMismatch error; a zero-norm vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, models.NewError(models.ErrDimensionMismatch,
			"cosine similarity requires equal non-empty dimensions, got %d and %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// DaysSince returns the floor of whole UTC days elapsed since published.
// Future timestamps clip to 0.
func DaysSince(published, now time.Time) int {
	days := int(now.UTC().Sub(published.UTC()).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// QualityScore blends credibility and insight into [0,1]. The multiplier
// weights credibility against insight; maxQuality caps the numerator before
// normalization by the maximum attainable value.
func QualityScore(credibility, insight int, multiplier, maxQuality float64) float64 {
	numerator := multiplier*float64(credibility) + float64(insight)
	if numerator > maxQuality {
		numerator = maxQuality
	}
	return numerator / (multiplier*4 + 4)
}

// RecencyScore decays exponentially with age: exp(-lambda * daysOld).
func RecencyScore(daysOld int, lambda float64) float64 {
	return math.Exp(-lambda * float64(daysOld))
}
