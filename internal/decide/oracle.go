package decide

import "context"

// OracleClient is the transport to an external decision oracle. The payload
// is decision-specific; the response is the oracle's raw choice.
type OracleClient interface {
	Decide(ctx context.Context, decision string, payload any) (string, error)
}

// Oracle wraps an OracleClient as a Provider. Every failure or unusable
// answer falls through to the wrapped fallback provider, so the engine keeps
// working when the oracle is offline.
type Oracle struct {
	client   OracleClient
	fallback Provider
}

// NewOracle constructs an oracle-backed provider with a heuristic fallback.
func NewOracle(client OracleClient, fallback Provider) *Oracle {
	return &Oracle{client: client, fallback: fallback}
}

// Label implements Provider.
func (o *Oracle) Label() string { return "oracle" }

// DecideBribery implements Provider.
func (o *Oracle) DecideBribery(ctx context.Context, in BriberyInput) (bool, error) {
	if o != nil && o.client != nil {
		answer, err := o.client.Decide(ctx, "bribery", in)
		if err == nil {
			switch answer {
			case "accept":
				return true, nil
			case "reject":
				return false, nil
			}
		}
	}
	if o == nil || o.fallback == nil {
		return false, nil
	}
	return o.fallback.DecideBribery(ctx, in)
}

// DecideCaptureOutcome implements Provider.
func (o *Oracle) DecideCaptureOutcome(ctx context.Context, in OutcomeInput) (string, error) {
	if o != nil && o.client != nil {
		answer, err := o.client.Decide(ctx, "captureOutcome", in)
		if err == nil {
			if _, known := in.Weights[answer]; known {
				return answer, nil
			}
		}
	}
	if o == nil || o.fallback == nil {
		return "", nil
	}
	return o.fallback.DecideCaptureOutcome(ctx, in)
}

// DecideCombatAction implements Provider.
func (o *Oracle) DecideCombatAction(ctx context.Context, in CombatInput) (CombatAction, error) {
	if o != nil && o.client != nil {
		answer, err := o.client.Decide(ctx, "combatAction", in)
		if err == nil {
			switch CombatAction(answer) {
			case ActionAttack, ActionDefend, ActionPursue, ActionFlee:
				return CombatAction(answer), nil
			}
		}
	}
	if o == nil || o.fallback == nil {
		return ActionDefend, nil
	}
	return o.fallback.DecideCombatAction(ctx, in)
}
