package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// MetricsAPI is the CloudWatch surface the metrics client needs.
type MetricsAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// MetricsClient retrieves utilization metrics.
type MetricsClient struct {
	Client MetricsAPI
	Now    func() time.Time
}

func NewMetricsClient(cfg aws.Config) *MetricsClient {
	return &MetricsClient{Client: cloudwatch.NewFromConfig(cfg), Now: time.Now}
}

// GetCPUUtilization returns the hourly average and p95 CPU for an instance
// over the lookback window.
func (c *MetricsClient) GetCPUUtilization(ctx context.Context, instanceID string, lookbackDays int) (*resource.UtilizationSample, error) {
	end := c.Now()
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	resp, err := c.Client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/EC2"),
		MetricName: aws.String("CPUUtilization"),
		Dimensions: []types.Dimension{
			{Name: aws.String("InstanceId"), Value: aws.String(instanceID)},
		},
		StartTime:          aws.Time(start),
		EndTime:            aws.Time(end),
		Period:             aws.Int32(3600), // Hourly datapoints
		Statistics:         []types.Statistic{types.StatisticAverage},
		ExtendedStatistics: []string{"p95"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU utilization for %s: %v", instanceID, err)
	}

	if len(resp.Datapoints) == 0 {
		return &resource.UtilizationSample{}, nil
	}

	// Average the hourly averages and take the worst hourly p95 across
	// the window.
	var sum, p95 float64
	for _, dp := range resp.Datapoints {
		if dp.Average != nil {
			sum += *dp.Average
		}
		if v, ok := dp.ExtendedStatistics["p95"]; ok && v > p95 {
			p95 = v
		}
	}

	return &resource.UtilizationSample{
		Average:    sum / float64(len(resp.Datapoints)),
		P95:        p95,
		Datapoints: len(resp.Datapoints),
	}, nil
}
