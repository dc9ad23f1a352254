// Package pricing resolves on-demand storage rates from the AWS Pricing
// API so policy cost estimates track published prices instead of the
// baked-in defaults.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// PricingAPI is the slice of the Pricing service the client uses.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

type PriceRecord struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Client wraps the AWS Pricing API with a TTL file cache. The pricing
// endpoint only lives in us-east-1; callers pass a config pinned there.
type Client struct {
	logger    *slog.Logger
	svc       PricingAPI
	cache     map[string]PriceRecord
	mu        sync.RWMutex
	cachePath string
	ttl       time.Duration
}

func NewClient(cfg aws.Config, logger *slog.Logger, cacheDir string) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	os.MkdirAll(cacheDir, 0755)

	c := &Client{
		logger:    logger,
		svc:       pricing.NewFromConfig(cfg),
		cache:     make(map[string]PriceRecord),
		cachePath: filepath.Join(cacheDir, "pricing.json"),
		ttl:       15 * 24 * time.Hour,
	}
	c.loadCache()
	return c
}

func (c *Client) loadCache() {
	data, err := os.ReadFile(c.cachePath)
	if err == nil {
		json.Unmarshal(data, &c.cache)
	}
}

func (c *Client) saveCache() {
	data, err := json.MarshalIndent(c.cache, "", "  ")
	if err == nil {
		os.WriteFile(c.cachePath, data, 0644)
	}
}

// getCached runs fetch only on a cache miss or expiry.
func (c *Client) getCached(ctx context.Context, key string, fetch func(context.Context) (float64, error)) (float64, error) {
	c.mu.RLock()
	record, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Since(time.Unix(record.Timestamp, 0)) < c.ttl {
		return record.Price, nil
	}

	price, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[key] = PriceRecord{Price: price, Timestamp: time.Now().Unix()}
	c.saveCache()
	c.mu.Unlock()
	return price, nil
}

// VolumeRate returns the GB-month rate for a volume type in a region.
func (c *Client) VolumeRate(ctx context.Context, region, volumeType string) (float64, error) {
	var volTypeVal string
	switch volumeType {
	case "gp2":
		volTypeVal = "General Purpose"
	case "gp3":
		volTypeVal = "General Purpose SSD (gp3)"
	case "io1":
		volTypeVal = "Provisioned IOPS SSD"
	case "st1":
		volTypeVal = "Throughput Optimized HDD"
	case "sc1":
		volTypeVal = "Cold HDD"
	case "standard":
		volTypeVal = "Magnetic"
	default:
		return 0, fmt.Errorf("unknown volume type %q", volumeType)
	}

	key := fmt.Sprintf("ebs-%s-%s", region, volumeType)
	return c.getCached(ctx, key, func(ctx context.Context) (float64, error) {
		return c.fetchRate(ctx, []types.Filter{
			termMatch("productFamily", "Storage"),
			termMatch("serviceCode", "AmazonEC2"),
			termMatch("regionCode", region),
			termMatch("volumeType", volTypeVal),
		})
	})
}

// SnapshotRate returns the GB-month rate for EBS snapshot storage.
func (c *Client) SnapshotRate(ctx context.Context, region string) (float64, error) {
	key := fmt.Sprintf("snapshot-%s", region)
	return c.getCached(ctx, key, func(ctx context.Context) (float64, error) {
		return c.fetchRate(ctx, []types.Filter{
			termMatch("productFamily", "Storage Snapshot"),
			termMatch("serviceCode", "AmazonEC2"),
			termMatch("regionCode", region),
		})
	})
}

// Calibrate overlays live rates on the policy. Lookup failures keep the
// configured defaults; calibration is best effort.
func (c *Client) Calibrate(ctx context.Context, p *config.Policy, region string) {
	if rate, err := c.VolumeRate(ctx, region, "gp3"); err == nil {
		kp := p.Kinds[resource.KindVolume]
		kp.RatePerUnitMonth = rate
		p.Kinds[resource.KindVolume] = kp
		c.logger.Info("Calibrated volume rate", "region", region, "rate", rate)
	} else {
		c.logger.Warn("Volume rate lookup failed", "region", region, "error", err)
	}

	if rate, err := c.SnapshotRate(ctx, region); err == nil {
		kp := p.Kinds[resource.KindSnapshot]
		kp.RatePerUnitMonth = rate
		p.Kinds[resource.KindSnapshot] = kp
		c.logger.Info("Calibrated snapshot rate", "region", region, "rate", rate)
	} else {
		c.logger.Warn("Snapshot rate lookup failed", "region", region, "error", err)
	}
}

func (c *Client) fetchRate(ctx context.Context, filters []types.Filter) (float64, error) {
	out, err := c.svc.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters:     filters,
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return 0, err
	}
	if len(out.PriceList) == 0 {
		return 0, fmt.Errorf("no pricing found")
	}
	return parsePriceFromJSON(out.PriceList[0])
}

func termMatch(field, value string) types.Filter {
	return types.Filter{
		Type:  types.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

func parsePriceFromJSON(jsonStr string) (float64, error) {
	type PriceDimension struct {
		PricePerUnit map[string]string `json:"pricePerUnit"`
	}
	type Term struct {
		PriceDimensions map[string]PriceDimension `json:"priceDimensions"`
	}
	type Product struct {
		Terms map[string]map[string]Term `json:"terms"` // OnDemand -> SKU -> Term
	}

	var p Product
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return 0, err
	}

	if onDemand, ok := p.Terms["OnDemand"]; ok {
		for _, term := range onDemand {
			for _, dim := range term.PriceDimensions {
				if valStr, ok := dim.PricePerUnit["USD"]; ok {
					val, err := strconv.ParseFloat(valStr, 64)
					if err == nil {
						return val, nil
					}
				}
			}
		}
	}
	return 0, fmt.Errorf("price not found in JSON")
}
