package manager

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	awsclient "github.com/yuxishi/aws-quota-manager/internal/aws"
	"github.com/yuxishi/aws-quota-manager/internal/config"
)

// Connector returns the clients to manage an account with.
type Connector func(ctx context.Context, account config.Account) (Clients, error)

// AssumeRoleConnector connects to accounts by assuming their management
// role. Local clients use the credentials of base.
func AssumeRoleConnector(base aws.Config) Connector {
	local := awsclient.NewLocalClients(base)
	return func(ctx context.Context, account config.Account) (Clients, error) {
		cfg, err := awsclient.AssumeRole(ctx, base, awsclient.RoleARN(account.AccountID, account.RoleName))
		if err != nil {
			return Clients{}, err
		}
		remote := awsclient.NewRemoteClients(cfg)
		return Clients{
			ServiceQuotas: remote.ServiceQuotas,
			CloudWatch:    remote.CloudWatch,
			Config:        remote.Config,
			CostExplorer:  remote.CostExplorer,
			Support:       remote.Support,
			Local:         local.CloudWatch,
		}, nil
	}
}
