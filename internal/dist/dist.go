package dist

import (
	"math"
	"math/rand"
	"sync"
)

// ---------------------------------------------------------------------------
// Distribution library: pure statistical sampling
// Every sampler draws from an injected, seedable source so engines are
// reproducible in tests. No dependencies outside the standard library.
// ---------------------------------------------------------------------------

// Kind names a supported sampling distribution.
type Kind string

const (
	Uniform  Kind = "uniform"
	Gaussian Kind = "gaussian"
	Poisson  Kind = "poisson"
	SkewLow  Kind = "skew_low"  // power-law skew toward the low end
	SkewHigh Kind = "skew_high" // power-law skew toward the high end
)

// Valid reports whether k names a known distribution.
func (k Kind) Valid() bool {
	switch k {
	case Uniform, Gaussian, Poisson, SkewLow, SkewHigh:
		return true
	}
	return false
}

// Sampler draws values from bounded distributions. Safe for concurrent use:
// math/rand sources are not goroutine-safe, so all draws go through one mutex.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a sampler over the given seed.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Float64 returns a raw draw in [0, 1).
func (s *Sampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Intn returns a raw draw in [0, n).
func (s *Sampler) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Draw samples from the named distribution, clamped into [min, max].
// Unknown kinds fall back to uniform.
func (s *Sampler) Draw(kind Kind, min, max float64) float64 {
	if max <= min {
		return min
	}
	switch kind {
	case Gaussian:
		return s.TruncatedGaussian(min, max)
	case Poisson:
		return s.Exponential(min, max)
	case SkewLow:
		return s.PowerSkew(min, max, 2.0, false)
	case SkewHigh:
		return s.PowerSkew(min, max, 2.0, true)
	default:
		return s.UniformRange(min, max)
	}
}

// UniformRange returns a linear draw in [min, max].
func (s *Sampler) UniformRange(min, max float64) float64 {
	return min + s.Float64()*(max-min)
}

// TruncatedGaussian rejection-samples a normal with mean at the range
// midpoint and stdev range/4, retrying until the draw lands in [min, max].
// A bounded retry count guards against pathological inputs; after that the
// value is clamped.
func (s *Sampler) TruncatedGaussian(min, max float64) float64 {
	mean := (min + max) / 2
	stdev := (max - min) / 4

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 16; i++ {
		v := s.rng.NormFloat64()*stdev + mean
		if v >= min && v <= max {
			return v
		}
	}
	v := s.rng.NormFloat64()*stdev + mean
	return clamp(v, min, max)
}

// Exponential draws an inter-arrival time from rate 1/mean where mean is the
// range midpoint, clamped into [min, max]. This is the poisson-process
// spacing used for trade intervals.
func (s *Sampler) Exponential(min, max float64) float64 {
	mean := (min + max) / 2
	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()
	// Inverse CDF; guard u=0 which would explode the log.
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	v := -math.Log(u) * mean
	return clamp(v, min, max)
}

// PowerSkew draws from a power-law over [min, max]. exponent > 1 pushes mass
// toward the chosen end; high=false skews low, high=true skews high.
func (s *Sampler) PowerSkew(min, max float64, exponent float64, high bool) float64 {
	u := s.Float64()
	frac := math.Pow(u, exponent)
	if high {
		frac = 1 - frac
	}
	return min + frac*(max-min)
}

// Jitter perturbs value by up to ±pct percent. pct=10 means the result lies
// in [0.9*value, 1.1*value].
func (s *Sampler) Jitter(value, pct float64) float64 {
	if pct <= 0 {
		return value
	}
	factor := 1 + (s.Float64()*2-1)*pct/100
	return value * factor
}

// Bernoulli returns true with probability p.
func (s *Sampler) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.Float64() < p
}

// Shuffle permutes xs in place.
func (s *Sampler) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(n, swap)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
