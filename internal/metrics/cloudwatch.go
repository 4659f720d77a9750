package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"decodr/internal/types"
)

// CloudWatch metric names and dimensions.
const (
	MetricRequestCount    = "APIRequestCount"
	MetricRequestLatency  = "APILatency"
	MetricDecision        = "MeteringDecision"
	MetricPlanTransition  = "PlanTransition"
	DimMethod             = "Method"
	DimRoute              = "Route"
	DimStatus             = "Status"
	DimOutcome            = "Outcome"
	DimPlan               = "Plan"
	cloudWatchMaxPerCall  = 1000
	defaultFlushInterval  = 15 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// CloudWatchClient is the subset of the CloudWatch API used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch buffers datums in memory and publishes them in batches, either
// from Run's ticker or an explicit Flush (end of a Lambda invocation,
// shutdown). Publish failures are logged and the batch is dropped.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (c *CloudWatch) add(d ...cwtypes.MetricDatum) {
	now := time.Now()
	for i := range d {
		d[i].Timestamp = aws.Time(now)
	}
	c.mu.Lock()
	c.pending = append(c.pending, d...)
	c.mu.Unlock()
}

func (c *CloudWatch) RecordRequest(method, route, status string, duration time.Duration) {
	c.add(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimMethod, method), dim(DimRoute, route), dim(DimStatus, status)},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRequestLatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{dim(DimMethod, method), dim(DimRoute, route)},
		},
	)
}

func (c *CloudWatch) RecordDecision(_ context.Context, outcome types.DecisionOutcome) {
	c.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricDecision),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimOutcome, string(outcome))},
	})
}

func (c *CloudWatch) RecordPlanTransition(_ context.Context, plan types.Plan) {
	c.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricPlanTransition),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimPlan, string(plan))},
	})
}

// Flush publishes everything buffered so far.
func (c *CloudWatch) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), cloudWatchMaxPerCall)
		chunk := batch[:n]
		batch = batch[n:]

		pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		_, err := c.client.PutMetricData(pubCtx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: chunk,
		})
		cancel()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to publish metrics",
				"error", err,
				"datums", len(chunk),
			)
		}
	}
}

// Run flushes on a fixed interval until ctx is cancelled, then flushes once
// more.
func (c *CloudWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}
