package metrics

import (
	"context"
	"time"

	"decodr/internal/types"
)

// Nop discards everything. Used when METRICS_BACKEND=none.
type Nop struct{}

func (Nop) RecordRequest(string, string, string, time.Duration)   {}
func (Nop) RecordDecision(context.Context, types.DecisionOutcome) {}
func (Nop) RecordPlanTransition(context.Context, types.Plan)      {}
