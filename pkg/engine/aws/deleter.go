package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cloudreap/cloudreap/pkg/engine/guard"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// DeleterAPI is the EC2 surface the deleter needs.
type DeleterAPI interface {
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
}

// Deleter performs the destructive half of the safety protocol. It
// implements both guard service interfaces.
type Deleter struct {
	Client DeleterAPI
}

func NewDeleter(cfg aws.Config) *Deleter {
	return &Deleter{Client: ec2.NewFromConfig(cfg)}
}

// CreateSnapshot creates a tagged safety snapshot and returns its ID.
func (d *Deleter) CreateSnapshot(ctx context.Context, volID, desc string) (string, error) {
	volID = stripARN(volID)

	resp, err := d.Client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volID),
		Description: aws.String(desc),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeSnapshot,
				Tags: []types.Tag{
					{Key: aws.String("CreatedBy"), Value: aws.String("cloudreap")},
					{Key: aws.String("SourceVolume"), Value: aws.String(volID)},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(resp.SnapshotId), nil
}

// Delete removes a candidate by kind. A target that no longer exists maps
// to guard.ErrAlreadyGone so the caller can count it as vanished rather
// than failed.
func (d *Deleter) Delete(ctx context.Context, c resource.Candidate) error {
	id := stripARN(c.ID)

	var err error
	switch c.Kind {
	case resource.KindVolume:
		_, err = d.Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
	case resource.KindElasticIP:
		_, err = d.Client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(id)})
	case resource.KindSnapshot:
		_, err = d.Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)})
	default:
		return fmt.Errorf("unsupported resource kind for deletion: %s", c.Kind)
	}

	if err != nil && isNotFound(err) {
		return fmt.Errorf("%s: %w", id, guard.ErrAlreadyGone)
	}
	return err
}

// isNotFound matches the EC2 error code family for missing resources,
// e.g. InvalidVolume.NotFound, InvalidAllocationID.NotFound.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.HasSuffix(apiErr.ErrorCode(), ".NotFound")
	}
	return false
}

func stripARN(id string) string {
	if strings.HasPrefix(id, "arn:") {
		parts := strings.Split(id, "/")
		id = parts[len(parts)-1]
	}
	return id
}
