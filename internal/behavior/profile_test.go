package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/errs"
)

func TestActiveWindow_Contains(t *testing.T) {
	tests := []struct {
		name   string
		window ActiveWindow
		at     time.Time
		want   bool
	}{
		{
			name:   "always open",
			window: ActiveWindow{},
			at:     time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "inside daytime window",
			window: ActiveWindow{StartHour: 9, EndHour: 17},
			at:     time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "outside daytime window",
			window: ActiveWindow{StartHour: 9, EndHour: 17},
			at:     time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC),
			want:   false,
		},
		{
			name:   "end hour is exclusive",
			window: ActiveWindow{StartHour: 9, EndHour: 17},
			at:     time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC),
			want:   false,
		},
		{
			name:   "wrapping window late night",
			window: ActiveWindow{StartHour: 22, EndHour: 6},
			at:     time.Date(2026, 1, 5, 23, 30, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "wrapping window early morning",
			window: ActiveWindow{StartHour: 22, EndHour: 6},
			at:     time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "wrapping window midday closed",
			window: ActiveWindow{StartHour: 22, EndHour: 6},
			at:     time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:   false,
		},
		{
			name: "weekday restriction",
			window: ActiveWindow{
				Days: []time.Weekday{time.Monday},
			},
			at:   time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC), // Sunday
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.at))
		})
	}
}

func TestActiveWindow_NextOpen(t *testing.T) {
	w := ActiveWindow{StartHour: 9, EndHour: 17}

	// Already open: unchanged.
	open := time.Date(2026, 1, 5, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, open, w.NextOpen(open))

	// Closed evening: opens next morning at 09:00.
	evening := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	next := w.NextOpen(evening)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 6, next.Day())
}

func TestActiveWindow_NextOpen_WeekdayGap(t *testing.T) {
	w := ActiveWindow{
		StartHour: 13, EndHour: 21,
		Days: []time.Weekday{time.Monday},
	}
	// Saturday: next open is Monday 13:00.
	sat := time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC)
	next := w.NextOpen(sat)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 13, next.Hour())
}

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	require.NotEmpty(t, r.Names())

	for _, name := range r.Names() {
		p, err := r.Get(name)
		require.NoError(t, err)
		assert.True(t, p.TimingDistribution.Valid(), "profile %s timing dist", name)
		assert.True(t, p.SizeDistribution.Valid(), "profile %s size dist", name)
		assert.Greater(t, p.VarianceFactor, 0.0)
		assert.Greater(t, p.ActivityMultiplier, 0.0)
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("does-not-exist")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	p := Profile{
		Name:               "custom",
		TimingDistribution: dist.Uniform,
		SizeDistribution:   dist.Uniform,
		VarianceFactor:     0.3,
		ActivityMultiplier: 1.0,
	}
	require.NoError(t, r.Register(p))

	got, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRegistry_Register_Invalid(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Profile{Name: ""})
	assert.Error(t, err)

	err = r.Register(Profile{Name: "bad", TimingDistribution: dist.Kind("nope"), SizeDistribution: dist.Uniform})
	assert.Error(t, err)
}

func TestRegistry_ForMode(t *testing.T) {
	r := NewRegistry()

	for _, mode := range []string{"aggressive", "stealth", "volume"} {
		names := r.ForMode(mode)
		require.NotEmpty(t, names, "mode %s", mode)
		for _, n := range names {
			_, err := r.Get(n)
			require.NoError(t, err, "mode %s references unknown profile %s", mode, n)
		}
	}

	// Aggressive profiles trade faster than stealth profiles on average.
	avgMult := func(names []string) float64 {
		sum := 0.0
		for _, n := range names {
			p, _ := r.Get(n)
			sum += p.ActivityMultiplier
		}
		return sum / float64(len(names))
	}
	assert.Less(t, avgMult(r.ForMode("aggressive")), avgMult(r.ForMode("stealth")))
}
