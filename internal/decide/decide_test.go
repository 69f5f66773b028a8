package decide

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideBriberyHeuristic(t *testing.T) {
	ctx := context.Background()
	h := NewHeuristic(rand.New(rand.NewSource(1)))

	// Chance gate at zero always rejects, even when the bribe clears the
	// threshold.
	ok, err := h.DecideBribery(ctx, BriberyInput{
		Bribe: 40, Gold: 100, BaseCost: 50, Scale: 1, Aggressiveness: Normal, Chance: 0,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// threshold = 50 * 0.75 = 37.5; bribe 40 clears it and chance 100 always
	// passes.
	ok, err = h.DecideBribery(ctx, BriberyInput{
		Bribe: 40, Gold: 100, BaseCost: 50, Scale: 1, Aggressiveness: Normal, Chance: 100,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Bribe below threshold.
	ok, err = h.DecideBribery(ctx, BriberyInput{
		Bribe: 10, Gold: 100, BaseCost: 50, Scale: 1, Aggressiveness: Normal, Chance: 100,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Cannot pay.
	ok, err = h.DecideBribery(ctx, BriberyInput{
		Bribe: 40, Gold: 30, BaseCost: 50, Scale: 1, Aggressiveness: Normal, Chance: 100,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Aggressive guards lower the threshold: 50*0.75*0.6 = 22.5.
	ok, err = h.DecideBribery(ctx, BriberyInput{
		Bribe: 25, Gold: 100, BaseCost: 50, Scale: 1, Aggressiveness: Aggressive, Chance: 100,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Conservative guards raise it: 50*0.75*1.1 = 41.25.
	ok, err = h.DecideBribery(ctx, BriberyInput{
		Bribe: 40, Gold: 100, BaseCost: 50, Scale: 1, Aggressiveness: Conservative, Chance: 100,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecideCaptureOutcomeBias(t *testing.T) {
	ctx := context.Background()
	h := NewHeuristic(nil)
	weights := map[string]int{"combat": 30, "theft": 32, "jail": 10}

	pick, err := h.DecideCaptureOutcome(ctx, OutcomeInput{Weights: weights, Aggressiveness: Normal})
	require.NoError(t, err)
	assert.Equal(t, "theft", pick)

	// Aggressive boosts combat (30*1.25=37.5) past theft (32*0.75=24).
	pick, err = h.DecideCaptureOutcome(ctx, OutcomeInput{Weights: weights, Aggressiveness: Aggressive})
	require.NoError(t, err)
	assert.Equal(t, "combat", pick)
}

func TestDecideCombatActionThresholds(t *testing.T) {
	ctx := context.Background()
	h := NewHeuristic(nil)

	action, _ := h.DecideCombatAction(ctx, CombatInput{HP: 2, MaxHP: 10, EnemyCount: 1})
	assert.Equal(t, ActionFlee, action)

	action, _ = h.DecideCombatAction(ctx, CombatInput{HP: 4, MaxHP: 10, EnemyCount: 1})
	assert.Equal(t, ActionDefend, action)

	action, _ = h.DecideCombatAction(ctx, CombatInput{HP: 9, MaxHP: 10, EnemyCount: 0})
	assert.Equal(t, ActionPursue, action)

	action, _ = h.DecideCombatAction(ctx, CombatInput{HP: 9, MaxHP: 10, EnemyCount: 2})
	assert.Equal(t, ActionAttack, action)
}

type scriptedOracle struct {
	answer string
	err    error
}

func (s scriptedOracle) Decide(context.Context, string, any) (string, error) {
	return s.answer, s.err
}

func TestOracleFallsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	fallback := NewHeuristic(nil)

	broken := NewOracle(scriptedOracle{err: errors.New("timeout")}, fallback)
	pick, err := broken.DecideCaptureOutcome(ctx, OutcomeInput{Weights: map[string]int{"jail": 1, "combat": 5}})
	require.NoError(t, err)
	assert.Equal(t, "combat", pick)

	// Unknown answers also fall through.
	confused := NewOracle(scriptedOracle{answer: "dance"}, fallback)
	pick, err = confused.DecideCaptureOutcome(ctx, OutcomeInput{Weights: map[string]int{"jail": 1, "combat": 5}})
	require.NoError(t, err)
	assert.Equal(t, "combat", pick)

	working := NewOracle(scriptedOracle{answer: "jail"}, fallback)
	pick, err = working.DecideCaptureOutcome(ctx, OutcomeInput{Weights: map[string]int{"jail": 1, "combat": 5}})
	require.NoError(t, err)
	assert.Equal(t, "jail", pick)
}

func TestSimulateAttritionEliminates(t *testing.T) {
	result := SimulateAttrition([]GroupSummary{
		{Disposition: 1, HP: 40, DamagePerRound: 20, TokenIDs: []string{"hero"}},
		{Disposition: -1, HP: 30, DamagePerRound: 5, TokenIDs: []string{"guard-1", "guard-2"}},
	})
	assert.True(t, result.Decisive)
	assert.Equal(t, 2, result.Rounds)
	assert.ElementsMatch(t, []string{"guard-1", "guard-2"}, result.LoserTokens)
}

func TestSimulateAttritionTimeToZeroTieBreak(t *testing.T) {
	// Nobody dies in six rounds; the side that would fall first loses.
	result := SimulateAttrition([]GroupSummary{
		{Disposition: 1, HP: 100, DamagePerRound: 2, TokenIDs: []string{"hero"}},
		{Disposition: -1, HP: 80, DamagePerRound: 1, TokenIDs: []string{"guard"}},
	})
	assert.False(t, result.Decisive)
	assert.Equal(t, maxAttritionRounds, result.Rounds)
	assert.Equal(t, []string{"guard"}, result.LoserTokens)
}
