package history

import (
	"context"
	"time"

	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
)

// SpendSource replays ledger spend as observations for the delta detector.
// It answers synchronously from the store.
type SpendSource struct {
	Client *Client
	// Window is the number of trailing snapshots to replay.
	Window int
}

func NewSpendSource(c *Client, window int) *SpendSource {
	if window <= 0 {
		window = 10
	}
	return &SpendSource{Client: c, Window: window}
}

func (s *SpendSource) Name() string { return "history:run-spend" }

func (s *SpendSource) Query(ctx context.Context) (anomaly.JobHandle, error) {
	window, err := s.Client.LoadWindow(ctx, s.Window)
	if err != nil {
		return nil, err
	}

	var obs []anomaly.Observation
	for _, snap := range window {
		obs = append(obs, anomaly.Observation{
			Timestamp: time.Unix(snap.Timestamp, 0),
			GroupKey:  "total-monthly-cost",
			Value:     snap.TotalMonthlyCost,
		})
	}
	return doneHandle{obs: obs}, nil
}

type doneHandle struct {
	obs []anomaly.Observation
}

func (h doneHandle) Poll(ctx context.Context) (bool, []anomaly.Observation, error) {
	return true, h.obs, nil
}
