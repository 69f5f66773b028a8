package engine

import "math/rand"

// Pattern selects the next waypoint on each cycle.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternRandom     Pattern = "random"
	PatternWeighted   Pattern = "weighted"
	PatternPingPong   Pattern = "ping-pong"
	PatternPriority   Pattern = "priority"
)

// nextIndex picks the next waypoint index for a patrol. waypoints holds the
// patrol's route in order; entries may be nil when a referenced waypoint was
// deleted. Returns (-1, dir) when no selectable waypoint exists.
func nextIndex(pattern Pattern, waypoints []*Waypoint, current, dir int, rng *rand.Rand) (int, int) {
	n := len(waypoints)
	if n == 0 || !anySelectable(waypoints) {
		return -1, dir
	}
	if dir != -1 && dir != 1 {
		dir = 1
	}

	switch pattern {
	case PatternRandom:
		return randomIndex(waypoints, rng), dir
	case PatternWeighted:
		return weightedIndex(waypoints, rng), dir
	case PatternPingPong:
		return pingPongIndex(waypoints, current, dir)
	case PatternPriority:
		return priorityIndex(waypoints), dir
	default:
		// sequential
		for step := 1; step <= n; step++ {
			i := (current + step) % n
			if selectable(waypoints[i]) {
				return i, dir
			}
		}
		return -1, dir
	}
}

func selectable(w *Waypoint) bool {
	return w != nil && !w.Disabled
}

func anySelectable(waypoints []*Waypoint) bool {
	for _, w := range waypoints {
		if selectable(w) {
			return true
		}
	}
	return false
}

func randomIndex(waypoints []*Waypoint, rng *rand.Rand) int {
	candidates := make([]int, 0, len(waypoints))
	for i, w := range waypoints {
		if selectable(w) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	if rng == nil {
		return candidates[0]
	}
	return candidates[rng.Intn(len(candidates))]
}

// weightedIndex rolls r in [0, total) and returns the first index whose
// cumulative weight exceeds r.
func weightedIndex(waypoints []*Waypoint, rng *rand.Rand) int {
	total := 0.0
	for _, w := range waypoints {
		if selectable(w) && w.Weight > 0 {
			total += w.Weight
		}
	}
	if total <= 0 {
		return randomIndex(waypoints, rng)
	}
	r := 0.0
	if rng != nil {
		r = rng.Float64() * total
	}
	cum := 0.0
	for i, w := range waypoints {
		if !selectable(w) || w.Weight <= 0 {
			continue
		}
		cum += w.Weight
		if r < cum {
			return i
		}
	}
	// Float round-off: last candidate wins.
	for i := len(waypoints) - 1; i >= 0; i-- {
		if selectable(waypoints[i]) && waypoints[i].Weight > 0 {
			return i
		}
	}
	return -1
}

// pingPongIndex walks the route back and forth, flipping direction at the
// endpoints.
func pingPongIndex(waypoints []*Waypoint, current, dir int) (int, int) {
	n := len(waypoints)
	if n == 1 {
		if selectable(waypoints[0]) {
			return 0, dir
		}
		return -1, dir
	}
	for step := 0; step < 2*n; step++ {
		next := current + dir
		if next >= n {
			dir = -1
			next = n - 2
		} else if next < 0 {
			dir = 1
			next = 1
		}
		current = next
		if selectable(waypoints[current]) {
			return current, dir
		}
	}
	return -1, dir
}

// priorityIndex returns the argmax of Priority over selectable waypoints,
// ties broken by first-encountered.
func priorityIndex(waypoints []*Waypoint) int {
	best := -1
	for i, w := range waypoints {
		if !selectable(w) {
			continue
		}
		if best == -1 || w.Priority > waypoints[best].Priority {
			best = i
		}
	}
	return best
}
