package types

import "time"

// Plan is the billing tier of a Profile.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Valid reports whether p is a known plan tier.
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanPremium
}

// EntitlementState is the derived metering state of an account.
type EntitlementState string

const (
	StateFreeActive    EntitlementState = "FREE_ACTIVE"
	StateFreeExhausted EntitlementState = "FREE_EXHAUSTED"
	StatePremium       EntitlementState = "PREMIUM"
)

// Profile is the per-account entitlement record. FreeUsesRemaining is nil
// when the column is unset; a nil counter is treated as exhausted.
type Profile struct {
	ID                string     `json:"id"`
	Email             string     `json:"email,omitempty"`
	Plan              Plan       `json:"plan"`
	FreeUsesRemaining *int       `json:"free_uses_remaining"`
	StripeCustomerID  *string    `json:"stripe_customer_id"`
	BillingEventAt    *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Remaining returns the quota counter, treating nil as zero.
func (p *Profile) Remaining() int {
	if p.FreeUsesRemaining == nil {
		return 0
	}
	return *p.FreeUsesRemaining
}

// State derives the entitlement state from plan and counter.
func (p *Profile) State() EntitlementState {
	if p.Plan == PlanPremium {
		return StatePremium
	}
	if p.Remaining() <= 0 {
		return StateFreeExhausted
	}
	return StateFreeActive
}

// DecisionOutcome labels why a metering decision allowed or denied a request.
type DecisionOutcome string

const (
	OutcomeAllowAnonymous   DecisionOutcome = "allow_anonymous"
	OutcomeAllowPremium     DecisionOutcome = "allow_premium"
	OutcomeAllowFree        DecisionOutcome = "allow_free"
	OutcomeDenyTrialLimit   DecisionOutcome = "deny_trial_limit"
	OutcomeDenyStoreFailure DecisionOutcome = "deny_store_unavailable"
)

// Decision is the result of authorizing one analyze/chat request.
// Remaining is set only when a free-tier unit was consumed.
type Decision struct {
	Allowed   bool
	Outcome   DecisionOutcome
	Actor     Actor
	Plan      Plan
	Remaining *int
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
