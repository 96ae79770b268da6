package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// mockCloudWatchClient captures PutMetricData calls for test assertions.
type mockCloudWatchClient struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// newSyncMetrics builds a collector whose emits run inline so tests can
// assert on the captured calls without sleeping.
func newSyncMetrics(mock *mockCloudWatchClient) *CloudWatchMetrics {
	m := NewCloudWatchMetrics(mock, "ShutterDeskTest", nil)
	m.emit = func(input *cloudwatch.PutMetricDataInput) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = m.client.PutMetricData(ctx, input)
	}
	return m
}

func dimensionValue(datum cwtypes.MetricDatum, name string) string {
	for _, d := range datum.Dimensions {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func TestRecordRequest_EmitsCountAndLatency(t *testing.T) {
	mock := &mockCloudWatchClient{}
	metrics := newSyncMetrics(mock)

	metrics.RecordRequest("POST", "/v1/auth/login", "200", 42*time.Millisecond)

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if *call.Namespace != "ShutterDeskTest" {
		t.Errorf("expected namespace 'ShutterDeskTest', got %q", *call.Namespace)
	}
	if len(call.MetricData) != 2 {
		t.Fatalf("expected 2 metric data points, got %d", len(call.MetricData))
	}

	count := call.MetricData[0]
	if *count.MetricName != MetricRequestCount {
		t.Errorf("expected metric %q, got %q", MetricRequestCount, *count.MetricName)
	}
	if *count.Value != 1 {
		t.Errorf("expected count value 1, got %v", *count.Value)
	}
	if got := dimensionValue(count, DimMethod); got != "POST" {
		t.Errorf("expected Method dimension 'POST', got %q", got)
	}
	if got := dimensionValue(count, DimEndpoint); got != "/v1/auth/login" {
		t.Errorf("expected Endpoint dimension '/v1/auth/login', got %q", got)
	}
	if got := dimensionValue(count, DimStatus); got != "200" {
		t.Errorf("expected Status dimension '200', got %q", got)
	}

	latency := call.MetricData[1]
	if *latency.MetricName != MetricRequestLatency {
		t.Errorf("expected metric %q, got %q", MetricRequestLatency, *latency.MetricName)
	}
	if *latency.Value != 42 {
		t.Errorf("expected latency value 42, got %v", *latency.Value)
	}
	if latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected milliseconds unit, got %v", latency.Unit)
	}
	if got := dimensionValue(latency, DimEndpoint); got != "/v1/auth/login" {
		t.Errorf("expected Endpoint dimension on latency metric, got %q", got)
	}
}

func TestRecordRequest_PublishFailureDoesNotPanic(t *testing.T) {
	mock := &mockCloudWatchClient{err: errors.New("throttled")}
	metrics := newSyncMetrics(mock)

	metrics.RecordRequest("GET", "/v1/sessions", "500", 10*time.Millisecond)

	if len(mock.calls) != 1 {
		t.Fatalf("expected the emit to be attempted, got %d calls", len(mock.calls))
	}
}
