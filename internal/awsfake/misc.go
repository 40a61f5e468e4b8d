package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	cfgtypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"github.com/aws/smithy-go"
)

// ConfigService fakes AWS Config advanced queries. Rows are keyed by query
// expression and hold one JSON document each.
type ConfigService struct {
	mu sync.Mutex

	Rows     map[string][]string
	Errs     map[string]error
	PageSize int

	Inputs []*configservice.SelectResourceConfigInput
}

func (f *ConfigService) SelectResourceConfig(_ context.Context, in *configservice.SelectResourceConfigInput, _ ...func(*configservice.Options)) (*configservice.SelectResourceConfigOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inputs = append(f.Inputs, in)

	expr := aws.ToString(in.Expression)
	if err := f.Errs[expr]; err != nil {
		return nil, err
	}
	rows, next := page(f.Rows[expr], f.PageSize, in.NextToken)
	return &configservice.SelectResourceConfigOutput{
		Results:   rows,
		NextToken: next,
		QueryInfo: &cfgtypes.QueryInfo{},
	}, nil
}

// CostExplorer fakes Cost Explorer. Each entry of Periods holds the service
// names billed in one result period.
type CostExplorer struct {
	Periods [][]string
	Err     error

	Inputs []*costexplorer.GetCostAndUsageInput
}

func (f *CostExplorer) GetCostAndUsage(_ context.Context, in *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	f.Inputs = append(f.Inputs, in)
	if f.Err != nil {
		return nil, f.Err
	}

	out := &costexplorer.GetCostAndUsageOutput{}
	for _, names := range f.Periods {
		result := cetypes.ResultByTime{}
		for _, name := range names {
			result.Groups = append(result.Groups, cetypes.Group{Keys: []string{name}})
		}
		out.ResultsByTime = append(out.ResultsByTime, result)
	}
	return out, nil
}

// Support fakes the AWS Support API.
type Support struct {
	// SubscriptionRequired makes DescribeSeverityLevels fail the way it does
	// for accounts without a support plan.
	SubscriptionRequired bool
	SeverityErr          error
	CommunicationErr     error

	SeverityCalls  int
	Communications []*support.AddCommunicationToCaseInput
}

func (f *Support) DescribeSeverityLevels(_ context.Context, _ *support.DescribeSeverityLevelsInput, _ ...func(*support.Options)) (*support.DescribeSeverityLevelsOutput, error) {
	f.SeverityCalls++
	if f.SubscriptionRequired {
		return nil, &smithy.GenericAPIError{Code: "SubscriptionRequiredException", Message: "AWS Premium Support Subscription is required to use this service."}
	}
	if f.SeverityErr != nil {
		return nil, f.SeverityErr
	}
	return &support.DescribeSeverityLevelsOutput{}, nil
}

func (f *Support) AddCommunicationToCase(_ context.Context, in *support.AddCommunicationToCaseInput, _ ...func(*support.Options)) (*support.AddCommunicationToCaseOutput, error) {
	f.Communications = append(f.Communications, in)
	if f.CommunicationErr != nil {
		return nil, f.CommunicationErr
	}
	return &support.AddCommunicationToCaseOutput{}, nil
}
