// Package awsfake provides in-memory fakes of the AWS APIs the manager talks
// to. The fakes record every call so tests can assert on mutations.
package awsfake

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	sqtypes "github.com/aws/aws-sdk-go-v2/service/servicequotas/types"
	"github.com/aws/smithy-go"
)

// ServiceQuotas fakes the Service Quotas API. Quota lists are keyed by
// service code.
type ServiceQuotas struct {
	mu sync.Mutex

	Services []sqtypes.ServiceInfo
	Applied  map[string][]sqtypes.ServiceQuota
	Defaults map[string][]sqtypes.ServiceQuota
	// History is keyed by "<service code>#<quota code>".
	History map[string][]sqtypes.RequestedServiceQuotaChange
	// PageSize splits list responses into pages. Zero returns one page.
	PageSize int
	CaseID   string

	ServicesErr error
	AppliedErr  error
	DefaultsErr error
	HistoryErr  error
	IncreaseErr error

	Calls            []string
	IncreaseRequests []*servicequotas.RequestServiceQuotaIncreaseInput
}

func (f *ServiceQuotas) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

// CallCount returns how often an operation was called.
func (f *ServiceQuotas) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *ServiceQuotas) ListServices(_ context.Context, in *servicequotas.ListServicesInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListServicesOutput, error) {
	f.record("ListServices")
	if f.ServicesErr != nil {
		return nil, f.ServicesErr
	}
	items, next := page(f.Services, f.PageSize, in.NextToken)
	return &servicequotas.ListServicesOutput{Services: items, NextToken: next}, nil
}

func (f *ServiceQuotas) ListServiceQuotas(_ context.Context, in *servicequotas.ListServiceQuotasInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListServiceQuotasOutput, error) {
	f.record("ListServiceQuotas")
	if f.AppliedErr != nil {
		return nil, f.AppliedErr
	}
	items, next := page(f.Applied[aws.ToString(in.ServiceCode)], f.PageSize, in.NextToken)
	return &servicequotas.ListServiceQuotasOutput{Quotas: items, NextToken: next}, nil
}

func (f *ServiceQuotas) ListAWSDefaultServiceQuotas(_ context.Context, in *servicequotas.ListAWSDefaultServiceQuotasInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListAWSDefaultServiceQuotasOutput, error) {
	f.record("ListAWSDefaultServiceQuotas")
	if f.DefaultsErr != nil {
		return nil, f.DefaultsErr
	}
	items, next := page(f.Defaults[aws.ToString(in.ServiceCode)], f.PageSize, in.NextToken)
	return &servicequotas.ListAWSDefaultServiceQuotasOutput{Quotas: items, NextToken: next}, nil
}

func (f *ServiceQuotas) GetServiceQuota(_ context.Context, in *servicequotas.GetServiceQuotaInput, _ ...func(*servicequotas.Options)) (*servicequotas.GetServiceQuotaOutput, error) {
	f.record("GetServiceQuota")
	q, ok := find(f.Applied[aws.ToString(in.ServiceCode)], aws.ToString(in.QuotaCode))
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchResourceException", Message: "quota not found"}
	}
	return &servicequotas.GetServiceQuotaOutput{Quota: &q}, nil
}

func (f *ServiceQuotas) GetAWSDefaultServiceQuota(_ context.Context, in *servicequotas.GetAWSDefaultServiceQuotaInput, _ ...func(*servicequotas.Options)) (*servicequotas.GetAWSDefaultServiceQuotaOutput, error) {
	f.record("GetAWSDefaultServiceQuota")
	q, ok := find(f.Defaults[aws.ToString(in.ServiceCode)], aws.ToString(in.QuotaCode))
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchResourceException", Message: "quota not found"}
	}
	return &servicequotas.GetAWSDefaultServiceQuotaOutput{Quota: &q}, nil
}

func (f *ServiceQuotas) ListRequestedServiceQuotaChangeHistoryByQuota(_ context.Context, in *servicequotas.ListRequestedServiceQuotaChangeHistoryByQuotaInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListRequestedServiceQuotaChangeHistoryByQuotaOutput, error) {
	f.record("ListRequestedServiceQuotaChangeHistoryByQuota")
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	key := aws.ToString(in.ServiceCode) + "#" + aws.ToString(in.QuotaCode)
	items, next := page(f.History[key], f.PageSize, in.NextToken)
	return &servicequotas.ListRequestedServiceQuotaChangeHistoryByQuotaOutput{RequestedQuotas: items, NextToken: next}, nil
}

func (f *ServiceQuotas) RequestServiceQuotaIncrease(_ context.Context, in *servicequotas.RequestServiceQuotaIncreaseInput, _ ...func(*servicequotas.Options)) (*servicequotas.RequestServiceQuotaIncreaseOutput, error) {
	f.record("RequestServiceQuotaIncrease")
	f.mu.Lock()
	f.IncreaseRequests = append(f.IncreaseRequests, in)
	f.mu.Unlock()
	if f.IncreaseErr != nil {
		return nil, f.IncreaseErr
	}
	return &servicequotas.RequestServiceQuotaIncreaseOutput{
		RequestedQuota: &sqtypes.RequestedServiceQuotaChange{
			CaseId:       aws.String(f.CaseID),
			ServiceCode:  in.ServiceCode,
			QuotaCode:    in.QuotaCode,
			DesiredValue: in.DesiredValue,
			Status:       sqtypes.RequestStatusPending,
		},
	}, nil
}

func find(quotas []sqtypes.ServiceQuota, quotaCode string) (sqtypes.ServiceQuota, bool) {
	for _, q := range quotas {
		if aws.ToString(q.QuotaCode) == quotaCode {
			return q, true
		}
	}
	return sqtypes.ServiceQuota{}, false
}

// page returns the page of items starting at the offset encoded in token.
func page[T any](items []T, size int, token *string) ([]T, *string) {
	start := 0
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	if start >= len(items) {
		return nil, nil
	}
	end := len(items)
	if size > 0 {
		end = min(start+size, len(items))
	}
	var next *string
	if end < len(items) {
		next = aws.String(strconv.Itoa(end))
	}
	return items[start:end], next
}

// Quota builds a Service Quotas record.
func Quota(serviceCode, serviceName, quotaCode, quotaName string, value float64) sqtypes.ServiceQuota {
	return sqtypes.ServiceQuota{
		ServiceCode: aws.String(serviceCode),
		ServiceName: aws.String(serviceName),
		QuotaCode:   aws.String(quotaCode),
		QuotaName:   aws.String(quotaName),
		Value:       aws.Float64(value),
		Adjustable:  true,
	}
}

// WithUsageMetric attaches a native usage metric to a Service Quotas record.
func WithUsageMetric(q sqtypes.ServiceQuota, namespace, name string, dims map[string]string) sqtypes.ServiceQuota {
	q.UsageMetric = &sqtypes.MetricInfo{
		MetricNamespace:               aws.String(namespace),
		MetricName:                    aws.String(name),
		MetricDimensions:              dims,
		MetricStatisticRecommendation: aws.String("Maximum"),
	}
	return q
}
