package behavior

import (
	"sync"
	"time"

	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/errs"
)

// ---------------------------------------------------------------------------
// Behavior Profiles
// Named, immutable parameter sets that shape a bot's timing and sizing.
// Profiles are looked up by name and never mutated after registration.
// ---------------------------------------------------------------------------

// ActiveWindow bounds the hours and weekdays a profile trades in (UTC).
// Start == End means always active. Hours are half-open [Start, End); a
// window wrapping midnight (Start > End) is allowed.
type ActiveWindow struct {
	StartHour int          `json:"start_hour" yaml:"start_hour"`
	EndHour   int          `json:"end_hour" yaml:"end_hour"`
	Days      []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"` // empty = every day
}

// Contains reports whether t (UTC) falls inside the window.
func (w ActiveWindow) Contains(t time.Time) bool {
	t = t.UTC()
	if len(w.Days) > 0 {
		found := false
		for _, d := range w.Days {
			if t.Weekday() == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if w.StartHour == w.EndHour {
		return true
	}
	h := t.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Wraps midnight.
	return h >= w.StartHour || h < w.EndHour
}

// NextOpen returns the next instant at or after t at which the window is
// open. If the window is open at t, t is returned unchanged.
func (w ActiveWindow) NextOpen(t time.Time) time.Time {
	t = t.UTC()
	if w.Contains(t) {
		return t
	}
	// Scan hour boundaries; a window always opens within 8 days.
	probe := t.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*8; i++ {
		if w.Contains(probe) {
			return probe
		}
		probe = probe.Add(time.Hour)
	}
	return t
}

// Profile is a named behavior parameter set.
type Profile struct {
	Name string `json:"name"`

	TimingDistribution dist.Kind `json:"timing_distribution"`
	SizeDistribution   dist.Kind `json:"size_distribution"`

	Window ActiveWindow `json:"window"`

	// Burst behavior: with BurstProbability a wake fires BurstMin..BurstMax
	// back-to-back trades, then rests for BurstCooldown.
	BurstProbability float64       `json:"burst_probability"`
	BurstMin         int           `json:"burst_min"`
	BurstMax         int           `json:"burst_max"`
	BurstCooldown    time.Duration `json:"burst_cooldown"`

	// VarianceFactor scales perturbations applied on top of a bot's config.
	VarianceFactor float64 `json:"variance_factor"`

	// ActivityMultiplier scales trade intervals: <1 trades faster, >1 slower.
	ActivityMultiplier float64 `json:"activity_multiplier"`
}

// Registry holds profiles by name. Reads dominate; registration happens at
// startup.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry creates a registry preloaded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	for _, p := range builtins() {
		r.profiles[p.Name] = p
	}
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) error {
	if p.Name == "" {
		return errs.Validation("profile.name", "must not be empty")
	}
	if !p.TimingDistribution.Valid() || !p.SizeDistribution.Valid() {
		return errs.Validation("profile.distribution", "unknown distribution for profile %q", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
	return nil
}

// Get looks a profile up by name.
func (r *Registry) Get(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, errs.NotFound("profile", name)
	}
	return p, nil
}

// Names returns all registered profile names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	return names
}

// ForMode returns the profile names that a campaign mode prefers.
// Aggressive campaigns want short intervals and high variance; stealth
// campaigns want long intervals and large burst cooldowns.
func (r *Registry) ForMode(mode string) []string {
	switch mode {
	case "aggressive":
		return []string{"scalper", "burst", "moderate"}
	case "stealth":
		return []string{"whale_hours", "night_owl", "conservative"}
	default:
		return []string{"moderate", "conservative", "scalper", "night_owl"}
	}
}

func builtins() []Profile {
	return []Profile{
		{
			Name:               "conservative",
			TimingDistribution: dist.Gaussian,
			SizeDistribution:   dist.SkewLow,
			Window:             ActiveWindow{StartHour: 7, EndHour: 22},
			BurstProbability:   0.02,
			BurstMin:           2,
			BurstMax:           3,
			BurstCooldown:      30 * time.Minute,
			VarianceFactor:     0.15,
			ActivityMultiplier: 1.4,
		},
		{
			Name:               "moderate",
			TimingDistribution: dist.Poisson,
			SizeDistribution:   dist.Uniform,
			Window:             ActiveWindow{},
			BurstProbability:   0.08,
			BurstMin:           2,
			BurstMax:           4,
			BurstCooldown:      15 * time.Minute,
			VarianceFactor:     0.25,
			ActivityMultiplier: 1.0,
		},
		{
			Name:               "scalper",
			TimingDistribution: dist.Poisson,
			SizeDistribution:   dist.SkewLow,
			Window:             ActiveWindow{},
			BurstProbability:   0.20,
			BurstMin:           3,
			BurstMax:           6,
			BurstCooldown:      5 * time.Minute,
			VarianceFactor:     0.40,
			ActivityMultiplier: 0.5,
		},
		{
			Name:               "burst",
			TimingDistribution: dist.Uniform,
			SizeDistribution:   dist.SkewHigh,
			Window:             ActiveWindow{},
			BurstProbability:   0.35,
			BurstMin:           3,
			BurstMax:           8,
			BurstCooldown:      10 * time.Minute,
			VarianceFactor:     0.50,
			ActivityMultiplier: 0.7,
		},
		{
			Name:               "night_owl",
			TimingDistribution: dist.Gaussian,
			SizeDistribution:   dist.Uniform,
			Window:             ActiveWindow{StartHour: 22, EndHour: 6},
			BurstProbability:   0.05,
			BurstMin:           2,
			BurstMax:           3,
			BurstCooldown:      20 * time.Minute,
			VarianceFactor:     0.20,
			ActivityMultiplier: 1.2,
		},
		{
			Name:               "whale_hours",
			TimingDistribution: dist.Gaussian,
			SizeDistribution:   dist.SkewHigh,
			Window: ActiveWindow{
				StartHour: 13,
				EndHour:   21,
				Days: []time.Weekday{
					time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
				},
			},
			BurstProbability:   0.03,
			BurstMin:           2,
			BurstMax:           2,
			BurstCooldown:      45 * time.Minute,
			VarianceFactor:     0.10,
			ActivityMultiplier: 2.0,
		},
	}
}
