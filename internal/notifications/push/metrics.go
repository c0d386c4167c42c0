package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricNamespace is the CloudWatch namespace for delivery metrics.
const MetricNamespace = "PushPoint/Notifications"

// Delivery outcome values for the Result dimension.
const (
	ResultSuccess            = "success"
	ResultFailure            = "failure"
	ResultInvalidDestination = "invalid_destination"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics records delivery outcomes. Implementations must never block
// dispatch on metric emission failures.
type Metrics interface {
	RecordDelivery(ctx context.Context, result string)
	RecordLatency(ctx context.Context, duration time.Duration)
}

// CloudWatchMetrics emits delivery metrics to AWS CloudWatch:
//
//   - PushDeliveryAttempt, Dims {Result} -- one per delivery outcome
//   - PushDeliveryLatency, no dims -- wall time of the send call
type CloudWatchMetrics struct {
	client CloudWatchClient
	logger *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

func NewCloudWatchMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, logger: logger}
}

func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, result string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(MetricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("PushDeliveryAttempt"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Result"),
						Value: aws.String(result),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record delivery metric",
			"error", err,
			"result", result,
		)
	}
}

func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(MetricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("PushDeliveryLatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record latency metric",
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// NoopMetrics discards all observations. Used when CloudWatch is not
// configured, e.g. local development.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordDelivery(context.Context, string)       {}
func (NoopMetrics) RecordLatency(context.Context, time.Duration) {}
