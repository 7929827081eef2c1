package confirm

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"

	"github.com/mizukami-io/reagent"
)

// ConfirmationIDKey is the argument the model must resubmit alongside the
// original arguments once the pending confirmation has been approved.
const ConfirmationIDKey = "confirmation_id"

// RiskFunc decides whether an action needs human approval and, if so,
// renders the command string the approval is bound to.
type RiskFunc func(req *reagent.ActionRequest) (command string, highRisk bool)

// Gate wraps a ToolExecutor and suspends high-risk actions behind the
// store's used-once tokens. A gated action first yields an outcome with
// RequiresConfirmation set; resubmitting it with the confirmation_id
// argument consumes the token and forwards the call.
type Gate struct {
	store *Store
	next  reagent.ToolExecutor
	risk  RiskFunc
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRiskFunc replaces the risk decision.
func WithRiskFunc(fn RiskFunc) GateOption {
	return func(g *Gate) {
		g.risk = fn
	}
}

// GateTools marks the named tools as high-risk. The bound command is the
// "command" argument when present, otherwise the serialized arguments.
func GateTools(names ...string) RiskFunc {
	gated := make(map[string]struct{}, len(names))
	for _, name := range names {
		gated[name] = struct{}{}
	}

	return func(req *reagent.ActionRequest) (string, bool) {
		if _, ok := gated[req.Name]; !ok {
			return "", false
		}
		if cmd, ok := req.Arguments["command"].(string); ok {
			return cmd, true
		}
		raw, err := json.Marshal(req.Arguments)
		if err != nil {
			return req.Name, true
		}
		return req.Name + " " + string(raw), true
	}
}

// NewGate wraps next with a confirmation gate backed by store.
func NewGate(store *Store, next reagent.ToolExecutor, options ...GateOption) *Gate {
	g := &Gate{
		store: store,
		next:  next,
		risk:  func(*reagent.ActionRequest) (string, bool) { return "", false },
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Execute intercepts high-risk actions. The confirmation_id argument is
// stripped before the call is forwarded so downstream tools never see it.
func (g *Gate) Execute(ctx context.Context, req *reagent.ActionRequest) (*reagent.ActionOutcome, error) {
	command, highRisk := g.risk(req)
	if !highRisk {
		return g.next.Execute(ctx, req)
	}

	id, resubmitted := req.Arguments[ConfirmationIDKey].(string)
	if !resubmitted {
		pending := g.store.Create(command)
		return &reagent.ActionOutcome{
			Success:              false,
			RequiresConfirmation: true,
			ConfirmationID:       pending.ID,
			Command:              command,
		}, nil
	}

	if err := g.store.Consume(id, command); err != nil {
		return &reagent.ActionOutcome{
			Success: false,
			Error:   goerr.Wrap(err, "confirmation rejected", goerr.V("id", id)).Error(),
		}, nil
	}

	forwarded := &reagent.ActionRequest{
		ID:        req.ID,
		Name:      req.Name,
		Arguments: make(map[string]any, len(req.Arguments)),
	}
	for k, v := range req.Arguments {
		if k == ConfirmationIDKey {
			continue
		}
		forwarded.Arguments[k] = v
	}

	return g.next.Execute(ctx, forwarded)
}

var _ reagent.ToolExecutor = (*Gate)(nil)
