package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"decodr/internal/external"
	"decodr/internal/types"
)

// Event is the subset of a Stripe event envelope billing reads. The object
// payload is decoded lazily by type.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook payload.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decoding stripe event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("stripe event missing id or type")
	}
	return &ev, nil
}

// CreatedAt is the event's creation time, used to order plan writes.
func (e *Event) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

type checkoutSessionObject struct {
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type planChange struct {
	userID     string
	customerID string
	plan       types.Plan
}

// planChange returns ok=false for event types that do not affect plans.
func (e *Event) planChange() (planChange, bool, error) {
	switch e.Type {
	case external.EventStripeCheckoutCompleted:
		var obj checkoutSessionObject
		if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
			return planChange{}, false, fmt.Errorf("%s: decoding session: %w", e.Type, err)
		}
		userID := obj.Metadata[external.StripeMetaUserID]
		if userID == "" {
			userID = obj.ClientReferenceID
		}
		return planChange{userID: userID, customerID: obj.Customer, plan: types.PlanPremium}, true, nil

	case external.EventStripeSubUpdated, external.EventStripeSubDeleted:
		var obj subscriptionObject
		if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
			return planChange{}, false, fmt.Errorf("%s: decoding subscription: %w", e.Type, err)
		}
		plan := types.PlanFree
		if e.Type == external.EventStripeSubUpdated && entitlesPremium(obj.Status) {
			plan = types.PlanPremium
		}
		return planChange{userID: obj.Metadata[external.StripeMetaUserID], customerID: obj.Customer, plan: plan}, true, nil

	default:
		return planChange{}, false, nil
	}
}

func entitlesPremium(status string) bool {
	return status == "active" || status == "trialing"
}
