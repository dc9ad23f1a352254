package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
)

// LogsAPI is the CloudWatch Logs Insights surface the flow-log sources need.
type LogsAPI interface {
	StartQuery(ctx context.Context, params *cloudwatchlogs.StartQueryInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.StartQueryOutput, error)
	GetQueryResults(ctx context.Context, params *cloudwatchlogs.GetQueryResultsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetQueryResultsOutput, error)
}

// FlowLogSource runs one Logs Insights query over a VPC flow-log group.
// Queries are asynchronous: StartQuery submits, GetQueryResults is polled.
type FlowLogSource struct {
	Client   LogsAPI
	name     string
	LogGroup string
	Window   time.Duration
	query    string
	// parse maps one Insights result row to an observation.
	parse func(row map[string]string) (anomaly.Observation, bool)
	Now   func() time.Time
}

// NewPortScanSource queries distinct destination ports per source address.
func NewPortScanSource(cfg aws.Config, logGroup string, window time.Duration) *FlowLogSource {
	return &FlowLogSource{
		Client:   cloudwatchlogs.NewFromConfig(cfg),
		name:     "flowlogs:port-scan",
		LogGroup: logGroup,
		Window:   window,
		// One row per (srcAddr, dstPort) pair; the detector counts the
		// distinct ports per address.
		query: `filter action = "ACCEPT"
| stats count(*) as hits by srcAddr, dstPort`,
		parse: func(row map[string]string) (anomaly.Observation, bool) {
			src, ok := row["srcAddr"]
			if !ok {
				return anomaly.Observation{}, false
			}
			port, ok := row["dstPort"]
			if !ok {
				return anomaly.Observation{}, false
			}
			return anomaly.Observation{GroupKey: src, SecondaryKey: port, Value: 1}, true
		},
		Now: time.Now,
	}
}

// NewExfilSource queries outbound byte totals per source address.
func NewExfilSource(cfg aws.Config, logGroup string, window time.Duration) *FlowLogSource {
	return &FlowLogSource{
		Client:   cloudwatchlogs.NewFromConfig(cfg),
		name:     "flowlogs:exfiltration",
		LogGroup: logGroup,
		Window:   window,
		query: `filter action = "ACCEPT"
| stats sum(bytes) as total by srcAddr`,
		parse: func(row map[string]string) (anomaly.Observation, bool) {
			src, ok := row["srcAddr"]
			if !ok {
				return anomaly.Observation{}, false
			}
			total, err := strconv.ParseFloat(row["total"], 64)
			if err != nil {
				return anomaly.Observation{}, false
			}
			return anomaly.Observation{GroupKey: src, Value: total}, true
		},
		Now: time.Now,
	}
}

// NewDenialSource queries the most refused (source, port) pairs. The
// result feeds the rejected-traffic summary, not a threshold detector.
func NewDenialSource(cfg aws.Config, logGroup string, window time.Duration) *FlowLogSource {
	return &FlowLogSource{
		Client:   cloudwatchlogs.NewFromConfig(cfg),
		name:     "flowlogs:denials",
		LogGroup: logGroup,
		Window:   window,
		query: `filter action = "REJECT"
| stats count(*) as hits by srcAddr, dstPort
| sort hits desc
| limit 50`,
		parse: func(row map[string]string) (anomaly.Observation, bool) {
			src, ok := row["srcAddr"]
			if !ok {
				return anomaly.Observation{}, false
			}
			hits, err := strconv.ParseFloat(row["hits"], 64)
			if err != nil {
				return anomaly.Observation{}, false
			}
			return anomaly.Observation{GroupKey: src, SecondaryKey: row["dstPort"], Value: hits}, true
		},
		Now: time.Now,
	}
}

func (s *FlowLogSource) Name() string { return s.name }

// Query submits the Insights query and returns a pollable handle.
func (s *FlowLogSource) Query(ctx context.Context) (anomaly.JobHandle, error) {
	end := s.Now()
	start := end.Add(-s.Window)

	resp, err := s.Client.StartQuery(ctx, &cloudwatchlogs.StartQueryInput{
		LogGroupName: aws.String(s.LogGroup),
		QueryString:  aws.String(s.query),
		StartTime:    aws.Int64(start.Unix()),
		EndTime:      aws.Int64(end.Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start query on %s: %v", s.LogGroup, err)
	}
	return &insightsHandle{client: s.Client, queryID: aws.ToString(resp.QueryId), parse: s.parse, at: end}, nil
}

type insightsHandle struct {
	client  LogsAPI
	queryID string
	parse   func(row map[string]string) (anomaly.Observation, bool)
	at      time.Time
}

func (h *insightsHandle) Poll(ctx context.Context) (bool, []anomaly.Observation, error) {
	resp, err := h.client.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{
		QueryId: aws.String(h.queryID),
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to get query results: %v", err)
	}

	switch resp.Status {
	case types.QueryStatusComplete:
	case types.QueryStatusScheduled, types.QueryStatusRunning:
		return false, nil, nil
	default:
		return false, nil, fmt.Errorf("query %s ended in status %s", h.queryID, resp.Status)
	}

	var obs []anomaly.Observation
	for _, fields := range resp.Results {
		row := make(map[string]string, len(fields))
		for _, f := range fields {
			if f.Field != nil && f.Value != nil {
				row[*f.Field] = *f.Value
			}
		}
		if o, ok := h.parse(row); ok {
			o.Timestamp = h.at
			obs = append(obs, o)
		}
	}
	return true, obs, nil
}
