package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// MockEC2Client implements EC2API for testing.
type MockEC2Client struct {
	DescribeVolumesFunc   func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeAddressesFunc func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeSnapshotsFunc func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DescribeInstancesFunc func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

func (m *MockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.DescribeVolumesFunc != nil {
		return m.DescribeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *MockEC2Client) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	if m.DescribeAddressesFunc != nil {
		return m.DescribeAddressesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeAddressesOutput{}, nil
}

func (m *MockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	if m.DescribeSnapshotsFunc != nil {
		return m.DescribeSnapshotsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSnapshotsOutput{}, nil
}

func (m *MockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc != nil {
		return m.DescribeInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestVolumeSource_List(t *testing.T) {
	mock := &MockEC2Client{
		DescribeVolumesFunc: func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			return &ec2.DescribeVolumesOutput{
				Volumes: []types.Volume{
					{
						VolumeId:   aws.String("vol-zombie"),
						Size:       aws.Int32(50),
						CreateTime: aws.Time(testNow.Add(-30 * 24 * time.Hour)),
						Tags: []types.Tag{
							{Key: aws.String("Owner"), Value: aws.String("platform")},
						},
					},
					{
						// No creation timestamp recorded.
						VolumeId: aws.String("vol-noage"),
						Size:     aws.Int32(8),
					},
				},
			}, nil
		},
	}

	s := &VolumeSource{Client: mock, Region: "us-east-1", Now: func() time.Time { return testNow }}
	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}

	c := got[0]
	if c.ID != "vol-zombie" || c.Kind != resource.KindVolume {
		t.Errorf("Unexpected candidate: %+v", c)
	}
	if !c.AgeKnown || c.AgeDays != 30 {
		t.Errorf("Expected known age 30d, got known=%v age=%d", c.AgeKnown, c.AgeDays)
	}
	if c.Size != 50 {
		t.Errorf("Expected size 50, got %f", c.Size)
	}
	if c.Tags["Owner"] != "platform" {
		t.Errorf("Tags lost: %v", c.Tags)
	}

	if got[1].AgeKnown {
		t.Error("Volume without CreateTime must report AgeKnown false")
	}
}

func TestAddressSource_FiltersAssociated(t *testing.T) {
	mock := &MockEC2Client{
		DescribeAddressesFunc: func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
			return &ec2.DescribeAddressesOutput{
				Addresses: []types.Address{
					{AllocationId: aws.String("eipalloc-idle")},
					{AllocationId: aws.String("eipalloc-used"), AssociationId: aws.String("assoc-1")},
					{AllocationId: aws.String("eipalloc-nic"), NetworkInterfaceId: aws.String("eni-1")},
				},
			}, nil
		},
	}

	s := &AddressSource{Client: mock, Region: "us-east-1"}
	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "eipalloc-idle" {
		t.Fatalf("Expected only the idle address, got %v", got)
	}
	if !got[0].AgeKnown {
		t.Error("Idle addresses qualify immediately; age must be known")
	}
}

func TestSnapshotSource_SkipsOwnSafetySnapshots(t *testing.T) {
	mock := &MockEC2Client{
		DescribeSnapshotsFunc: func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []types.Snapshot{
					{
						SnapshotId: aws.String("snap-stale"),
						VolumeSize: aws.Int32(100),
						StartTime:  aws.Time(testNow.Add(-200 * 24 * time.Hour)),
					},
					{
						SnapshotId: aws.String("snap-safety"),
						VolumeSize: aws.Int32(100),
						StartTime:  aws.Time(testNow.Add(-200 * 24 * time.Hour)),
						Tags: []types.Tag{
							{Key: aws.String("CreatedBy"), Value: aws.String("cloudreap")},
						},
					},
				},
			}, nil
		},
	}

	s := &SnapshotSource{Client: mock, Region: "us-east-1", Now: func() time.Time { return testNow }}
	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "snap-stale" {
		t.Fatalf("Safety snapshots must never become candidates, got %v", got)
	}
}
