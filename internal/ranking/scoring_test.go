package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/pkg/models"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{1.0, 0.0, 0.0},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{0.0, 1.0, 0.0},
			expected: 0.0,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{-1.0, 0.0, 0.0},
			expected: -1.0,
		},
		{
			name:     "scaled vectors",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{2.0, 4.0, 6.0},
			expected: 1.0,
		},
		{
			name:     "zero vector",
			a:        []float32{0.0, 0.0, 0.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, result, 0.001)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
	}{
		{name: "different lengths", a: []float32{1.0, 0.0}, b: []float32{1.0, 0.0, 0.0}},
		{name: "empty first", a: nil, b: []float32{1.0}},
		{name: "both empty", a: nil, b: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CosineSimilarity(tt.a, tt.b)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.ErrDimensionMismatch))
		})
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		published time.Time
		expected  int
	}{
		{
			name:      "same instant",
			published: now,
			expected:  0,
		},
		{
			name:      "23 hours ago rounds down",
			published: now.Add(-23 * time.Hour),
			expected:  0,
		},
		{
			name:      "36 hours ago",
			published: now.Add(-36 * time.Hour),
			expected:  1,
		},
		{
			name:      "exactly 90 days",
			published: now.AddDate(0, 0, -90),
			expected:  90,
		},
		{
			name:      "future publish date clips to zero",
			published: now.Add(5 * time.Hour),
			expected:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DaysSince(tt.published, now))
		})
	}
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name        string
		credibility int
		insight     int
		maxQuality  float64
		expected    float64
	}{
		{
			name:        "maximum scores",
			credibility: 4,
			insight:     4,
			maxQuality:  10.0,
			expected:    1.0,
		},
		{
			name:        "mid range",
			credibility: 2,
			insight:     3,
			maxQuality:  10.0,
			expected:    0.6, // (1.5*2 + 3) / 10
		},
		{
			name:        "low credibility high insight",
			credibility: 1,
			insight:     4,
			maxQuality:  10.0,
			expected:    0.55, // (1.5 + 4) / 10
		},
		{
			name:        "zero scores",
			credibility: 0,
			insight:     0,
			maxQuality:  10.0,
			expected:    0.0,
		},
		{
			name:        "cap bites when lowered",
			credibility: 4,
			insight:     4,
			maxQuality:  5.0,
			expected:    0.5, // numerator capped at 5, denominator still 10
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := QualityScore(tt.credibility, tt.insight, 1.5, tt.maxQuality)
			assert.InDelta(t, tt.expected, result, 0.001)
		})
	}
}

func TestRecencyScore(t *testing.T) {
	tests := []struct {
		name     string
		daysOld  int
		lambda   float64
		expected float64
	}{
		{
			name:     "published today",
			daysOld:  0,
			lambda:   0.03,
			expected: 1.0,
		},
		{
			name:     "thirty days old",
			daysOld:  30,
			lambda:   0.03,
			expected: 0.40657,
		},
		{
			name:     "ninety days old",
			daysOld:  90,
			lambda:   0.03,
			expected: 0.06721,
		},
		{
			name:     "zero lambda disables decay",
			daysOld:  365,
			lambda:   0.0,
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RecencyScore(tt.daysOld, tt.lambda), 0.001)
		})
	}
}

func BenchmarkCosineSimilarity(b *testing.B) {
	const dimension = 1536

	vec1 := make([]float32, dimension)
	vec2 := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		vec1[i] = float32(i) / dimension
		vec2[i] = float32(dimension-i) / dimension
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CosineSimilarity(vec1, vec2); err != nil {
			b.Fatal(err)
		}
	}
}
