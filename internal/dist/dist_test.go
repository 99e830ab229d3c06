package dist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_UniformRange_Bounds(t *testing.T) {
	s := NewSampler(1)
	for i := 0; i < 1000; i++ {
		v := s.UniformRange(5, 50)
		assert.GreaterOrEqual(t, v, 5.0)
		assert.LessOrEqual(t, v, 50.0)
	}
}

func TestSampler_Draw_AllKindsRespectMin(t *testing.T) {
	s := NewSampler(42)
	kinds := []Kind{Uniform, Gaussian, Poisson, SkewLow, SkewHigh}
	for _, k := range kinds {
		for i := 0; i < 1000; i++ {
			v := s.Draw(k, 10, 100)
			require.GreaterOrEqual(t, v, 10.0, "kind=%s", k)
			require.LessOrEqual(t, v, 100.0, "kind=%s", k)
		}
	}
}

func TestSampler_Draw_DegenerateRange(t *testing.T) {
	s := NewSampler(7)
	assert.Equal(t, 5.0, s.Draw(Uniform, 5, 5))
	assert.Equal(t, 5.0, s.Draw(Gaussian, 5, 3))
}

func TestSampler_TruncatedGaussian_CentersOnMidpoint(t *testing.T) {
	s := NewSampler(99)
	sum := 0.0
	n := 5000
	for i := 0; i < n; i++ {
		sum += s.TruncatedGaussian(0, 100)
	}
	mean := sum / float64(n)
	// Mean of the truncated normal stays near the midpoint.
	assert.InDelta(t, 50.0, mean, 3.0)
}

func TestSampler_PowerSkew_Direction(t *testing.T) {
	s := NewSampler(3)
	lowSum, highSum := 0.0, 0.0
	n := 5000
	for i := 0; i < n; i++ {
		lowSum += s.PowerSkew(0, 100, 2.0, false)
		highSum += s.PowerSkew(0, 100, 2.0, true)
	}
	assert.Less(t, lowSum/float64(n), 45.0)
	assert.Greater(t, highSum/float64(n), 55.0)
}

func TestSampler_Jitter_Bounds(t *testing.T) {
	s := NewSampler(11)
	for i := 0; i < 1000; i++ {
		v := s.Jitter(100, 10)
		assert.GreaterOrEqual(t, v, 90.0)
		assert.LessOrEqual(t, v, 110.0)
	}
	assert.Equal(t, 100.0, s.Jitter(100, 0))
}

func TestSampler_Bernoulli_Ratio(t *testing.T) {
	s := NewSampler(123)
	hits := 0
	n := 10000
	for i := 0; i < n; i++ {
		if s.Bernoulli(0.7) {
			hits++
		}
	}
	ratio := float64(hits) / float64(n)
	assert.Greater(t, ratio, 0.65)
	assert.Less(t, ratio, 0.75)
}

func TestSampler_Bernoulli_Extremes(t *testing.T) {
	s := NewSampler(5)
	assert.False(t, s.Bernoulli(0))
	assert.True(t, s.Bernoulli(1))
}

func TestSampler_Deterministic(t *testing.T) {
	a := NewSampler(777)
	b := NewSampler(777)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Float64(), b.Float64())
	}
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, Uniform.Valid())
	assert.True(t, Poisson.Valid())
	assert.False(t, Kind("cauchy").Valid())
}
