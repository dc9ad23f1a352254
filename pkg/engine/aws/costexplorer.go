package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
)

// CostAPI is the Cost Explorer surface the spend source needs.
type CostAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// SpendSource feeds the delta detector with daily unblended cost per
// service. Cost Explorer answers synchronously, so the handle completes on
// the first poll.
type SpendSource struct {
	Client CostAPI
	// Days is the comparison window; two days is enough for
	// day-over-day deltas, more smooths reporting.
	Days int
	Now  func() time.Time
}

func NewSpendSource(cfg aws.Config, days int) *SpendSource {
	return &SpendSource{Client: costexplorer.NewFromConfig(cfg), Days: days, Now: time.Now}
}

func (s *SpendSource) Name() string { return "costexplorer:daily-spend" }

func (s *SpendSource) Query(ctx context.Context) (anomaly.JobHandle, error) {
	end := s.Now()
	start := end.AddDate(0, 0, -s.Days)

	resp, err := s.Client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cost and usage: %v", err)
	}

	var obs []anomaly.Observation
	for _, period := range resp.ResultsByTime {
		ts, err := time.Parse("2006-01-02", aws.ToString(period.TimePeriod.Start))
		if err != nil {
			continue
		}
		for _, group := range period.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			metric, ok := group.Metrics["UnblendedCost"]
			if !ok || metric.Amount == nil {
				continue
			}
			amount, err := strconv.ParseFloat(*metric.Amount, 64)
			if err != nil {
				continue
			}
			obs = append(obs, anomaly.Observation{
				Timestamp: ts,
				GroupKey:  group.Keys[0],
				Value:     amount,
			})
		}
	}
	return completedHandle{obs: obs}, nil
}

// completedHandle adapts a synchronous answer to the polling interface.
type completedHandle struct {
	obs []anomaly.Observation
}

func (h completedHandle) Poll(ctx context.Context) (bool, []anomaly.Observation, error) {
	return true, h.obs, nil
}
