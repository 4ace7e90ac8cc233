package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine evaluates the outbound dial policy with OPA.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given policy content into a prepared query.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.dial_policy.decision"),
		rego.Module("dial_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the dial policy for an outbound call.
// Input is a map with keys: phone, user_id, scheduled.
// Returns the decision ("allow" or "block") and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result set means the
		// document was undefined, which we treat as allow.
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}

	return "allow", "unexpected return type", nil
}

// AllowsCall is a convenience wrapper for the dispatch path.
func (e *Engine) AllowsCall(ctx context.Context, phone string, userID int64) (bool, string, error) {
	decision, reason, err := e.Evaluate(ctx, map[string]interface{}{
		"phone":   phone,
		"user_id": userID,
	})
	if err != nil {
		return false, "", err
	}
	return decision == "allow", reason, nil
}

// DefaultPolicy is the default dial policy content.
const DefaultPolicy = `
package dial_policy

default decision = "allow"

# Premium-rate numbers are never dialed.
decision = "block" {
	startswith(input.phone, "+1900")
}

decision = "block" {
	startswith(input.phone, "+1976")
}

# A dialable number carries a country code and a full subscriber part.
decision = "block" {
	count(input.phone) < 8
}
`
