package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// EC2API is the subset of the EC2 client the sources need. Tests substitute
// a fake.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

func parseTags(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Key != nil && t.Value != nil {
			out[*t.Key] = *t.Value
		}
	}
	return out
}

// ageDays converts a creation timestamp to whole days. A nil timestamp
// yields AgeKnown false.
func ageDays(created *time.Time, now time.Time) (int, bool) {
	if created == nil {
		return 0, false
	}
	return int(now.Sub(*created).Hours() / 24), true
}

// VolumeSource lists unattached EBS volumes.
type VolumeSource struct {
	Client EC2API
	Region string
	Now    func() time.Time
}

func NewVolumeSource(cfg aws.Config) *VolumeSource {
	return &VolumeSource{Client: ec2.NewFromConfig(cfg), Region: cfg.Region, Now: time.Now}
}

func (s *VolumeSource) Name() string        { return "ec2:volumes" }
func (s *VolumeSource) Kind() resource.Kind { return resource.KindVolume }

func (s *VolumeSource) List(ctx context.Context) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := ec2.NewDescribeVolumesPaginator(s.Client, &ec2.DescribeVolumesInput{
		Filters: []types.Filter{
			{Name: aws.String("status"), Values: []string{"available"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %v", err)
		}
		for _, v := range page.Volumes {
			age, known := ageDays(v.CreateTime, s.Now())
			size := 0.0
			if v.Size != nil {
				size = float64(*v.Size)
			}
			out = append(out, resource.Candidate{
				ID:       aws.ToString(v.VolumeId),
				Kind:     resource.KindVolume,
				Region:   s.Region,
				AgeDays:  age,
				AgeKnown: known,
				Size:     size,
				Tags:     parseTags(v.Tags),
			})
		}
	}
	return out, nil
}

// AddressSource lists Elastic IPs not associated with anything.
type AddressSource struct {
	Client EC2API
	Region string
}

func NewAddressSource(cfg aws.Config) *AddressSource {
	return &AddressSource{Client: ec2.NewFromConfig(cfg), Region: cfg.Region}
}

func (s *AddressSource) Name() string        { return "ec2:addresses" }
func (s *AddressSource) Kind() resource.Kind { return resource.KindElasticIP }

func (s *AddressSource) List(ctx context.Context) ([]resource.Candidate, error) {
	// DescribeAddresses does not paginate.
	resp, err := s.Client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %v", err)
	}

	var out []resource.Candidate
	for _, a := range resp.Addresses {
		if a.AssociationId != nil || a.InstanceId != nil || a.NetworkInterfaceId != nil {
			continue
		}
		out = append(out, resource.Candidate{
			ID:     aws.ToString(a.AllocationId),
			Kind:   resource.KindElasticIP,
			Region: s.Region,
			// EIPs have no creation timestamp; idleness alone qualifies
			// them, so age is pinned at the threshold floor.
			AgeDays:  0,
			AgeKnown: true,
			Size:     1,
			Tags:     parseTags(a.Tags),
		})
	}
	return out, nil
}

// SnapshotSource lists self-owned EBS snapshots.
type SnapshotSource struct {
	Client EC2API
	Region string
	Now    func() time.Time
}

func NewSnapshotSource(cfg aws.Config) *SnapshotSource {
	return &SnapshotSource{Client: ec2.NewFromConfig(cfg), Region: cfg.Region, Now: time.Now}
}

func (s *SnapshotSource) Name() string        { return "ec2:snapshots" }
func (s *SnapshotSource) Kind() resource.Kind { return resource.KindSnapshot }

func (s *SnapshotSource) List(ctx context.Context) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := ec2.NewDescribeSnapshotsPaginator(s.Client, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe snapshots: %v", err)
		}
		for _, snap := range page.Snapshots {
			// Never offer our own safety snapshots for reclamation.
			tags := parseTags(snap.Tags)
			if tags["CreatedBy"] == "cloudreap" {
				continue
			}
			age, known := ageDays(snap.StartTime, s.Now())
			size := 0.0
			if snap.VolumeSize != nil {
				size = float64(*snap.VolumeSize)
			}
			out = append(out, resource.Candidate{
				ID:       aws.ToString(snap.SnapshotId),
				Kind:     resource.KindSnapshot,
				Region:   s.Region,
				AgeDays:  age,
				AgeKnown: known,
				Size:     size,
				Tags:     tags,
			})
		}
	}
	return out, nil
}

// InstanceSource lists running instances with their CPU utilization sample
// attached, feeding the sizing recommendations.
type InstanceSource struct {
	Client  EC2API
	Metrics *MetricsClient
	Region  string
	// LookbackDays bounds the utilization window.
	LookbackDays int
	Now          func() time.Time
}

func NewInstanceSource(cfg aws.Config, metrics *MetricsClient, lookbackDays int) *InstanceSource {
	return &InstanceSource{
		Client:       ec2.NewFromConfig(cfg),
		Metrics:      metrics,
		Region:       cfg.Region,
		LookbackDays: lookbackDays,
		Now:          time.Now,
	}
}

func (s *InstanceSource) Name() string        { return "ec2:instances" }
func (s *InstanceSource) Kind() resource.Kind { return resource.KindInstance }

func (s *InstanceSource) List(ctx context.Context) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := ec2.NewDescribeInstancesPaginator(s.Client, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %v", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				id := aws.ToString(inst.InstanceId)
				age, known := ageDays(inst.LaunchTime, s.Now())

				c := resource.Candidate{
					ID:       id,
					Kind:     resource.KindInstance,
					Region:   s.Region,
					AgeDays:  age,
					AgeKnown: known,
					Size:     1,
					Tags:     parseTags(inst.Tags),
				}

				// A metric fetch failure leaves Utilization nil; the
				// evaluator reports the instance as insufficient data.
				if s.Metrics != nil {
					sample, err := s.Metrics.GetCPUUtilization(ctx, id, s.LookbackDays)
					if err == nil {
						c.Utilization = sample
					}
				}
				out = append(out, c)
			}
		}
	}
	return out, nil
}
