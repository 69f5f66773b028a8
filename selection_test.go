package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/geom"
)

func route(n int) []*Waypoint {
	wps := make([]*Waypoint, n)
	for i := range wps {
		wps[i] = NewWaypoint("", "scene", geom.Vec2{X: float64(i * 100)})
	}
	return wps
}

func TestSequentialWrapsAndSkipsDisabled(t *testing.T) {
	wps := route(4)
	wps[2].Disable()

	next, dir := nextIndex(PatternSequential, wps, 0, 1, nil)
	require.Equal(t, 1, next)
	require.Equal(t, 1, dir)

	next, _ = nextIndex(PatternSequential, wps, 1, 1, nil)
	require.Equal(t, 3, next, "disabled waypoints are skipped")

	next, _ = nextIndex(PatternSequential, wps, 3, 1, nil)
	require.Equal(t, 0, next, "the route wraps")
}

func TestPingPongBouncesAtEndpoints(t *testing.T) {
	wps := route(4)
	current, dir := 0, 1
	var trace []int
	for i := 0; i < 10; i++ {
		current, dir = nextIndex(PatternPingPong, wps, current, dir, nil)
		trace = append(trace, current)
	}
	require.Equal(t, []int{1, 2, 3, 2, 1, 0, 1, 2, 3, 2}, trace)
}

func TestPingPongSingleWaypoint(t *testing.T) {
	wps := route(1)
	next, _ := nextIndex(PatternPingPong, wps, 0, 1, nil)
	require.Equal(t, 0, next)
}

func TestRandomDrawsOnlySelectable(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	wps := route(4)
	wps[0].Disable()
	wps[3].Disable()

	seen := map[int]int{}
	for i := 0; i < 500; i++ {
		next, _ := nextIndex(PatternRandom, wps, 0, 1, rng)
		seen[next]++
	}
	require.Len(t, seen, 2)
	require.Positive(t, seen[1])
	require.Positive(t, seen[2])
}

func TestWeightedFavorsHeavyWaypoints(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	wps := route(2)
	wps[0].Weight = 1
	wps[1].Weight = 9

	counts := map[int]int{}
	for i := 0; i < 10000; i++ {
		next, _ := nextIndex(PatternWeighted, wps, 0, 1, rng)
		counts[next]++
	}
	require.InDelta(t, 1000, counts[0], 150)
	require.InDelta(t, 9000, counts[1], 150)
}

func TestPriorityArgmaxFirstEncounteredTie(t *testing.T) {
	wps := route(4)
	wps[1].Priority = 5
	wps[3].Priority = 5

	next, _ := nextIndex(PatternPriority, wps, 0, 1, nil)
	require.Equal(t, 1, next, "ties break on the earlier route position")

	wps[1].Disable()
	next, _ = nextIndex(PatternPriority, wps, 0, 1, nil)
	require.Equal(t, 3, next)
}

func TestNothingSelectableYieldsNoIndex(t *testing.T) {
	wps := route(3)
	for _, w := range wps {
		w.Disable()
	}
	for _, pattern := range []Pattern{PatternSequential, PatternRandom, PatternWeighted, PatternPingPong, PatternPriority} {
		next, _ := nextIndex(pattern, wps, 0, 1, rand.New(rand.NewSource(1)))
		require.Equal(t, -1, next, "pattern %s", pattern)
	}

	// Deleted waypoints appear as nil entries and are equally unselectable.
	next, _ := nextIndex(PatternSequential, []*Waypoint{nil, nil}, 0, 1, nil)
	require.Equal(t, -1, next)
}
