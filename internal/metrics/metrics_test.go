package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"decodr/internal/core"
	"decodr/internal/types"
)

var (
	_ core.MetricsCollector = (*Prometheus)(nil)
	_ core.MetricsCollector = (*CloudWatch)(nil)
	_ core.MetricsCollector = Nop{}
)

type mockCloudWatchClient struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatchClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, m.err
}

func (m *mockCloudWatchClient) datumCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range m.inputs {
		n += len(in.MetricData)
	}
	return n
}

func TestPrometheus_CountsRequestsAndDecisions(t *testing.T) {
	p := NewPrometheus("decodr")

	p.RecordRequest("POST", "/api/analyze", "200", 120*time.Millisecond)
	p.RecordRequest("POST", "/api/analyze", "200", 80*time.Millisecond)
	p.RecordRequest("POST", "/api/analyze", "403", 5*time.Millisecond)
	p.RecordDecision(context.Background(), types.OutcomeAllowFree)
	p.RecordDecision(context.Background(), types.OutcomeDenyTrialLimit)
	p.RecordPlanTransition(context.Background(), types.PlanPremium)

	if got := testutil.ToFloat64(p.requestsTotal.WithLabelValues("POST", "/api/analyze", "200")); got != 2 {
		t.Fatalf("requests 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.requestsTotal.WithLabelValues("POST", "/api/analyze", "403")); got != 1 {
		t.Fatalf("requests 403 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.decisionsTotal.WithLabelValues(string(types.OutcomeDenyTrialLimit))); got != 1 {
		t.Fatalf("deny decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.planTransitions.WithLabelValues("premium")); got != 1 {
		t.Fatalf("premium transitions = %v, want 1", got)
	}
}

func TestPrometheus_Handler(t *testing.T) {
	p := NewPrometheus("decodr")
	p.RecordDecision(context.Background(), types.OutcomeAllowAnonymous)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `decodr_metering_decisions_total{outcome="allow_anonymous"} 1`) {
		t.Fatalf("exposition missing decision counter:\n%s", rec.Body.String())
	}
}

func TestPrometheus_IndependentRegistries(t *testing.T) {
	a := NewPrometheus("decodr")
	b := NewPrometheus("decodr")
	a.RecordPlanTransition(context.Background(), types.PlanFree)

	if got := testutil.ToFloat64(b.planTransitions.WithLabelValues("free")); got != 0 {
		t.Fatalf("second instance saw %v transitions", got)
	}
}

func TestCloudWatch_FlushPublishesBufferedDatums(t *testing.T) {
	client := &mockCloudWatchClient{}
	cw := NewCloudWatch(client, "Decodr/API", nil)

	cw.RecordRequest("POST", "/api/analyze", "200", 150*time.Millisecond)
	cw.RecordDecision(context.Background(), types.OutcomeAllowPremium)
	cw.RecordPlanTransition(context.Background(), types.PlanFree)

	if client.datumCount() != 0 {
		t.Fatal("datums published before flush")
	}

	cw.Flush(context.Background())

	if len(client.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(client.inputs))
	}
	in := client.inputs[0]
	if *in.Namespace != "Decodr/API" {
		t.Fatalf("namespace = %q", *in.Namespace)
	}
	if len(in.MetricData) != 4 {
		t.Fatalf("datums = %d, want 4", len(in.MetricData))
	}

	latency := in.MetricData[1]
	if *latency.MetricName != MetricRequestLatency || *latency.Value != 150 {
		t.Fatalf("latency datum = %s %v", *latency.MetricName, *latency.Value)
	}

	decision := in.MetricData[2]
	if *decision.Dimensions[0].Name != DimOutcome || *decision.Dimensions[0].Value != "allow_premium" {
		t.Fatalf("decision dimension = %s=%s", *decision.Dimensions[0].Name, *decision.Dimensions[0].Value)
	}

	cw.Flush(context.Background())
	if len(client.inputs) != 1 {
		t.Fatal("empty flush should not call PutMetricData")
	}
}

func TestCloudWatch_FlushChunksLargeBatches(t *testing.T) {
	client := &mockCloudWatchClient{}
	cw := NewCloudWatch(client, "Decodr/API", nil)

	for i := 0; i < cloudWatchMaxPerCall+5; i++ {
		cw.RecordDecision(context.Background(), types.OutcomeAllowFree)
	}
	cw.Flush(context.Background())

	if len(client.inputs) != 2 {
		t.Fatalf("PutMetricData calls = %d, want 2", len(client.inputs))
	}
	if client.datumCount() != cloudWatchMaxPerCall+5 {
		t.Fatalf("datums = %d", client.datumCount())
	}
}

func TestCloudWatch_PublishErrorDropsBatch(t *testing.T) {
	client := &mockCloudWatchClient{err: errors.New("throttled")}
	cw := NewCloudWatch(client, "Decodr/API", nil)

	cw.RecordDecision(context.Background(), types.OutcomeAllowFree)
	cw.Flush(context.Background())
	cw.Flush(context.Background())

	if len(client.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(client.inputs))
	}
}

func TestCloudWatch_RunFlushesOnCancel(t *testing.T) {
	client := &mockCloudWatchClient{}
	cw := NewCloudWatch(client, "Decodr/API", nil)
	cw.RecordDecision(context.Background(), types.OutcomeAllowFree)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cw.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if client.datumCount() != 1 {
		t.Fatalf("datums = %d, want 1", client.datumCount())
	}
}
