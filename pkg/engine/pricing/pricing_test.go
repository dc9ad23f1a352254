package pricing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

type MockPricingClient struct {
	GetProductsFunc func(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
	Calls           int
}

func (m *MockPricingClient) GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	m.Calls++
	return m.GetProductsFunc(ctx, params, optFns...)
}

func priceList(usd string) []string {
	return []string{fmt.Sprintf(`{"terms":{"OnDemand":{"SKU1":{"priceDimensions":{"D1":{"pricePerUnit":{"USD":"%s"}}}}}}}`, usd)}
}

func testClient(t *testing.T, mock *MockPricingClient) *Client {
	t.Helper()
	c := &Client{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		svc:       mock,
		cache:     make(map[string]PriceRecord),
		cachePath: t.TempDir() + "/pricing.json",
		ttl:       time.Hour,
	}
	return c
}

func TestVolumeRate_ParsesAndCaches(t *testing.T) {
	mock := &MockPricingClient{
		GetProductsFunc: func(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
			return &pricing.GetProductsOutput{PriceList: priceList("0.0912")}, nil
		},
	}
	c := testClient(t, mock)

	rate, err := c.VolumeRate(context.Background(), "eu-west-1", "gp3")
	if err != nil {
		t.Fatalf("VolumeRate failed: %v", err)
	}
	if rate != 0.0912 {
		t.Errorf("Expected rate 0.0912, got %f", rate)
	}

	// Second lookup must come from the cache.
	if _, err := c.VolumeRate(context.Background(), "eu-west-1", "gp3"); err != nil {
		t.Fatalf("Cached VolumeRate failed: %v", err)
	}
	if mock.Calls != 1 {
		t.Errorf("Expected 1 API call, got %d", mock.Calls)
	}
}

func TestVolumeRate_UnknownType(t *testing.T) {
	c := testClient(t, &MockPricingClient{})
	if _, err := c.VolumeRate(context.Background(), "us-east-1", "io9"); err == nil {
		t.Error("Expected error for unknown volume type")
	}
}

func TestCalibrate_OverlaysRates(t *testing.T) {
	mock := &MockPricingClient{
		GetProductsFunc: func(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
			return &pricing.GetProductsOutput{PriceList: priceList("0.10")}, nil
		},
	}
	c := testClient(t, mock)

	p := config.DefaultPolicy()
	c.Calibrate(context.Background(), &p, "ap-southeast-2")

	if p.Kinds[resource.KindVolume].RatePerUnitMonth != 0.10 {
		t.Errorf("Volume rate not calibrated: %f", p.Kinds[resource.KindVolume].RatePerUnitMonth)
	}
	if p.Kinds[resource.KindSnapshot].RatePerUnitMonth != 0.10 {
		t.Errorf("Snapshot rate not calibrated: %f", p.Kinds[resource.KindSnapshot].RatePerUnitMonth)
	}
	// Flat EIP rate is not priced per unit and must survive calibration.
	if p.Kinds[resource.KindElasticIP].RatePerUnitMonth != 3.60 {
		t.Errorf("EIP rate must be untouched: %f", p.Kinds[resource.KindElasticIP].RatePerUnitMonth)
	}
}

func TestCalibrate_KeepsDefaultsOnFailure(t *testing.T) {
	mock := &MockPricingClient{
		GetProductsFunc: func(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
			return &pricing.GetProductsOutput{}, nil
		},
	}
	c := testClient(t, mock)

	p := config.DefaultPolicy()
	c.Calibrate(context.Background(), &p, "us-east-1")

	if p.Kinds[resource.KindVolume].RatePerUnitMonth != 0.08 {
		t.Errorf("Default volume rate lost: %f", p.Kinds[resource.KindVolume].RatePerUnitMonth)
	}
}
