// Package catalog builds the authoritative set of quotas for a service by
// merging AWS default quotas with the values applied to an account.
package catalog

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	sqtypes "github.com/aws/aws-sdk-go-v2/service/servicequotas/types"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	awsclient "github.com/yuxishi/aws-quota-manager/internal/aws"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

// ErrCodeNoSuchResource is returned for quotas without an applied value.
const ErrCodeNoSuchResource = "NoSuchResourceException"

// PageInterval spaces consecutive Service Quotas page requests.
const PageInterval = 100 * time.Millisecond

type ServiceQuotasAPI interface {
	servicequotas.ListServicesAPIClient
	servicequotas.ListServiceQuotasAPIClient
	servicequotas.ListAWSDefaultServiceQuotasAPIClient
	GetServiceQuota(ctx context.Context, params *servicequotas.GetServiceQuotaInput, optFns ...func(*servicequotas.Options)) (*servicequotas.GetServiceQuotaOutput, error)
	GetAWSDefaultServiceQuota(ctx context.Context, params *servicequotas.GetAWSDefaultServiceQuotaInput, optFns ...func(*servicequotas.Options)) (*servicequotas.GetAWSDefaultServiceQuotaOutput, error)
}

type Option func(*Catalog)

// WithPageLimiter overrides the limiter spacing page requests.
func WithPageLimiter(l *rate.Limiter) Option {
	return func(c *Catalog) {
		c.pages = l
	}
}

// Catalog is not safe for concurrent use. Internal ids are handed out from a
// counter owned by the catalog, so one catalog should serve one collection
// pass.
type Catalog struct {
	client ServiceQuotasAPI
	logger slog.Logger
	pages  *rate.Limiter
	nextID int
}

func New(client ServiceQuotasAPI, logger slog.Logger, opts ...Option) *Catalog {
	c := &Catalog{
		client: client,
		logger: logger,
		pages:  rate.NewLimiter(rate.Every(PageInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Services lists every service known to Service Quotas.
func (c *Catalog) Services(ctx context.Context) ([]model.Service, error) {
	var services []model.Service
	for s, err := range c.listServices(ctx) {
		if err != nil {
			return nil, xerrors.Errorf("list services: %w", err)
		}
		services = append(services, model.Service{
			Code: aws.ToString(s.ServiceCode),
			Name: aws.ToString(s.ServiceName),
		})
	}
	return services, nil
}

// Quotas returns the quotas of a service. Applied values replace default
// values as a whole. Quotas AWS reports an error for are left out.
func (c *Catalog) Quotas(ctx context.Context, serviceCode string) ([]model.Quota, error) {
	logger := c.logger.With(slog.F("service_code", serviceCode))

	applied := make(map[string]sqtypes.ServiceQuota)
	for q, err := range c.listAppliedQuotas(ctx, serviceCode) {
		if err != nil {
			logger.Warn(ctx, "unable to list applied quotas, using defaults", slog.Error(err))
			break
		}
		if q.ErrorReason != nil {
			continue
		}
		applied[aws.ToString(q.QuotaCode)] = q
	}

	var quotas []model.Quota
	for q, err := range c.listDefaultQuotas(ctx, serviceCode) {
		if err != nil {
			return nil, xerrors.Errorf("list default quotas for %s: %w", serviceCode, err)
		}
		if q.ErrorReason != nil {
			logger.Warn(ctx, "can not manage quota",
				slog.F("service_name", aws.ToString(q.ServiceName)),
				slog.F("quota_name", aws.ToString(q.QuotaName)),
				slog.F("reason_code", string(q.ErrorReason.ErrorCode)),
				slog.F("reason_message", aws.ToString(q.ErrorReason.ErrorMessage)),
			)
			continue
		}
		if override, ok := applied[aws.ToString(q.QuotaCode)]; ok {
			q = override
		}

		quota := FromSDK(q)
		quota.InternalID = c.internalID()
		quotas = append(quotas, quota)
	}

	logger.Debug(ctx, "built quota catalog", slog.F("quotas", len(quotas)), slog.F("applied", len(applied)))
	return quotas, nil
}

// Quota looks up a single quota, preferring the value applied to the account
// over the AWS default.
func (c *Catalog) Quota(ctx context.Context, serviceCode, quotaCode string) (model.Quota, error) {
	applied, err := c.client.GetServiceQuota(ctx, &servicequotas.GetServiceQuotaInput{
		ServiceCode: aws.String(serviceCode),
		QuotaCode:   aws.String(quotaCode),
	})
	if err == nil && applied.Quota != nil {
		return FromSDK(*applied.Quota), nil
	}
	if err != nil && !awsclient.IsErrorCode(err, ErrCodeNoSuchResource) {
		return model.Quota{}, xerrors.Errorf("get service quota %s/%s: %w", serviceCode, quotaCode, err)
	}

	def, err := c.client.GetAWSDefaultServiceQuota(ctx, &servicequotas.GetAWSDefaultServiceQuotaInput{
		ServiceCode: aws.String(serviceCode),
		QuotaCode:   aws.String(quotaCode),
	})
	if err != nil {
		return model.Quota{}, xerrors.Errorf("get default service quota %s/%s: %w", serviceCode, quotaCode, err)
	}
	if def.Quota == nil {
		return model.Quota{}, xerrors.Errorf("default service quota %s/%s: empty response", serviceCode, quotaCode)
	}
	return FromSDK(*def.Quota), nil
}

func (c *Catalog) internalID() string {
	id := fmt.Sprintf("sq%05d", c.nextID)
	c.nextID++
	return id
}

func (c *Catalog) listServices(ctx context.Context) iter.Seq2[sqtypes.ServiceInfo, error] {
	return paginate(ctx, c.pages,
		func() pager[*servicequotas.ListServicesOutput] {
			return servicequotas.NewListServicesPaginator(c.client, &servicequotas.ListServicesInput{})
		},
		func(out *servicequotas.ListServicesOutput) []sqtypes.ServiceInfo { return out.Services },
	)
}

func (c *Catalog) listAppliedQuotas(ctx context.Context, serviceCode string) iter.Seq2[sqtypes.ServiceQuota, error] {
	return paginate(ctx, c.pages,
		func() pager[*servicequotas.ListServiceQuotasOutput] {
			return servicequotas.NewListServiceQuotasPaginator(c.client, &servicequotas.ListServiceQuotasInput{
				ServiceCode: aws.String(serviceCode),
			})
		},
		func(out *servicequotas.ListServiceQuotasOutput) []sqtypes.ServiceQuota { return out.Quotas },
	)
}

func (c *Catalog) listDefaultQuotas(ctx context.Context, serviceCode string) iter.Seq2[sqtypes.ServiceQuota, error] {
	return paginate(ctx, c.pages,
		func() pager[*servicequotas.ListAWSDefaultServiceQuotasOutput] {
			return servicequotas.NewListAWSDefaultServiceQuotasPaginator(c.client, &servicequotas.ListAWSDefaultServiceQuotasInput{
				ServiceCode: aws.String(serviceCode),
			})
		},
		func(out *servicequotas.ListAWSDefaultServiceQuotasOutput) []sqtypes.ServiceQuota { return out.Quotas },
	)
}

type pager[O any] interface {
	HasMorePages() bool
	NextPage(ctx context.Context, optFns ...func(*servicequotas.Options)) (O, error)
}

// paginate turns a Service Quotas paginator into a sequence of items. Every
// iteration starts a fresh paginator, so the sequence can be ranged over more
// than once. An error is yielded once and ends the sequence.
func paginate[O, T any](ctx context.Context, limiter *rate.Limiter, newPager func() pager[O], items func(O) []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		p := newPager()
		for p.HasMorePages() {
			if err := limiter.Wait(ctx); err != nil {
				yield(zero, err)
				return
			}
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range items(out) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}
