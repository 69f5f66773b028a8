package decide

// GroupSummary aggregates one disposition side of a combat for the attrition
// simulation.
type GroupSummary struct {
	Disposition    int
	HP             float64
	DamagePerRound float64
	TokenIDs       []string
}

// AttritionResult reports which tokens lost the simulated combat.
type AttritionResult struct {
	Rounds      int
	LoserTokens []string
	Decisive    bool
}

// maxAttritionRounds caps the simultaneous-attrition simulation.
const maxAttritionRounds = 6

// SimulateAttrition runs up to six rounds of simultaneous attrition between
// combatant groups. Each round every group absorbs the summed
// damage-per-round of all opposing groups. Groups reduced to zero lose; if
// nobody is eliminated inside the cap, the group with the smallest
// time-to-zero loses.
func SimulateAttrition(groups []GroupSummary) AttritionResult {
	if len(groups) < 2 {
		return AttritionResult{}
	}
	hp := make([]float64, len(groups))
	for i, g := range groups {
		hp[i] = g.HP
	}

	result := AttritionResult{}
	for round := 1; round <= maxAttritionRounds; round++ {
		result.Rounds = round
		damage := make([]float64, len(groups))
		for i, g := range groups {
			if hp[i] <= 0 {
				continue
			}
			for j := range groups {
				if i == j || groups[j].Disposition == g.Disposition {
					continue
				}
				damage[j] += g.DamagePerRound
			}
		}
		eliminated := false
		for i := range groups {
			if hp[i] <= 0 {
				continue
			}
			hp[i] -= damage[i]
			if hp[i] <= 0 {
				eliminated = true
			}
		}
		if eliminated {
			result.Decisive = true
			for i := range groups {
				if hp[i] <= 0 {
					result.LoserTokens = append(result.LoserTokens, groups[i].TokenIDs...)
				}
			}
			return result
		}
	}

	// No elimination: the side that would fall first loses.
	loser := -1
	bestTime := 0.0
	for i, g := range groups {
		incoming := 0.0
		for j, other := range groups {
			if i == j || other.Disposition == g.Disposition {
				continue
			}
			incoming += other.DamagePerRound
		}
		if incoming <= 0 {
			continue
		}
		timeToZero := hp[i] / incoming
		if loser == -1 || timeToZero < bestTime {
			loser = i
			bestTime = timeToZero
		}
	}
	if loser >= 0 {
		result.LoserTokens = append(result.LoserTokens, groups[loser].TokenIDs...)
	}
	return result
}
