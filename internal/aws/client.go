package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"golang.org/x/xerrors"
)

const (
	// RoleSessionName is attached to every assumed role session.
	RoleSessionName = "ServiceQuotaManagerRole"
	// RoleSessionDuration is the lifetime of assumed role credentials.
	RoleSessionDuration = 15 * time.Minute
	// CostExplorerRegion is the only region Cost Explorer is served from.
	CostExplorerRegion = "us-east-1"
	SupportRegion      = "us-east-1"
)

func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

// RoleARN returns the ARN of the management role inside an account.
func RoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

// AssumeRole returns a copy of base whose credentials come from assuming
// roleARN. Credentials are retrieved once up front so an unusable role is
// reported here rather than on the first API call.
func AssumeRole(ctx context.Context, base aws.Config, roleARN string) (aws.Config, error) {
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = RoleSessionName
		o.Duration = RoleSessionDuration
	})
	creds := aws.NewCredentialsCache(provider)
	if _, err := creds.Retrieve(ctx); err != nil {
		return aws.Config{}, xerrors.Errorf("assume role %s: %w", roleARN, err)
	}

	cfg := base.Copy()
	cfg.Credentials = creds
	return cfg, nil
}

// RemoteClients are the clients used against a managed account.
type RemoteClients struct {
	ServiceQuotas *servicequotas.Client
	CloudWatch    *cloudwatch.Client
	Config        *configservice.Client
	CostExplorer  *costexplorer.Client
	Support       *support.Client
}

func NewRemoteClients(cfg aws.Config) RemoteClients {
	return RemoteClients{
		ServiceQuotas: servicequotas.NewFromConfig(cfg),
		CloudWatch:    cloudwatch.NewFromConfig(cfg),
		Config:        configservice.NewFromConfig(cfg),
		CostExplorer: costexplorer.NewFromConfig(cfg, func(o *costexplorer.Options) {
			o.Region = CostExplorerRegion
		}),
		Support: support.NewFromConfig(cfg, func(o *support.Options) {
			o.Region = SupportRegion
		}),
	}
}

// LocalClients are the clients used against the account the manager runs in.
type LocalClients struct {
	CloudWatch *cloudwatch.Client
	S3         *s3.Client
}

func NewLocalClients(cfg aws.Config) LocalClients {
	return LocalClients{
		CloudWatch: cloudwatch.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
	}
}
