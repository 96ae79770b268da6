// Package observability emits API request metrics to CloudWatch.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names for the API request metrics.
const (
	MetricRequestCount   = "RequestCount"
	MetricRequestLatency = "RequestLatency"

	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)

// putMetricTimeout caps how long a background metric emit may run.
const putMetricTimeout = 5 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes per-request count and latency metrics. The
// metrics middleware calls RecordRequest after the response has been written,
// and the emit itself runs on a background goroutine, so CloudWatch latency
// or outages never affect request handling.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	// emit is swapped in tests to run synchronously.
	emit func(input *cloudwatch.PutMetricDataInput)
}

// NewCloudWatchMetrics creates a collector publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	m := &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
	m.emit = m.emitAsync
	return m
}

// RecordRequest emits a RequestCount metric with Method, Endpoint, and Status
// dimensions plus a RequestLatency metric with the Endpoint dimension.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimMethod), Value: aws.String(method)},
					{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
					{Name: aws.String(DimStatus), Value: aws.String(status)},
				},
			},
			{
				MetricName: aws.String(MetricRequestLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
				},
			},
		},
	}

	m.emit(input)
}

func (m *CloudWatchMetrics) emitAsync(input *cloudwatch.PutMetricDataInput) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), putMetricTimeout)
		defer cancel()
		if _, err := m.client.PutMetricData(ctx, input); err != nil {
			m.logger.Error("failed to publish request metrics",
				"namespace", m.namespace,
				"error", err,
			)
		}
	}()
}
