// Package manager runs the quota management cycle for one account and
// dispatches invocation events to it.
package manager

import (
	"context"
	"slices"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/alarm"
	"github.com/yuxishi/aws-quota-manager/internal/catalog"
	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/increase"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/publish"
	"github.com/yuxishi/aws-quota-manager/internal/usage"
)

type ServiceQuotasAPI interface {
	catalog.ServiceQuotasAPI
	increase.ServiceQuotasAPI
}

// LocalCloudWatchAPI is the CloudWatch of the account the manager runs in.
// Usage is published and alarmed on there.
type LocalCloudWatchAPI interface {
	publish.CloudWatchAPI
	alarm.CloudWatchAPI
}

// Clients are the AWS clients used to manage one account.
type Clients struct {
	ServiceQuotas ServiceQuotasAPI
	CloudWatch    usage.CloudWatchAPI
	Config        usage.ConfigAPI
	CostExplorer  catalog.CostExplorerAPI
	Support       increase.SupportAPI
	Local         LocalCloudWatchAPI
}

type EngineOptions struct {
	AccountID string
	Clients   Clients
	Logger    slog.Logger
	// Clock defaults to the real clock.
	Clock quartz.Clock
	// Queries holds the custom collection queries. Without them only quotas
	// with a native usage metric are collected.
	Queries usage.Queries
	// FilterPercentage defaults to usage.DefaultFilterPercentage.
	FilterPercentage float64
	PageLimiter      *rate.Limiter
	AlarmLimiter     *rate.Limiter
}

// Engine collects quota usage of one account and keeps its alarms and
// increase requests in line with it. An engine is used for one invocation
// and is not safe for concurrent use.
type Engine struct {
	accountID string
	logger    slog.Logger
	clock     quartz.Clock
	queries   usage.Queries
	filterPct float64

	catalog    *catalog.Catalog
	selector   *catalog.Selector
	collector  *usage.Collector
	publisher  *publish.Publisher
	reconciler *alarm.Reconciler
	workflow   *increase.Workflow

	collected bool
	quotas    []model.Quota
	snapshot  model.Snapshot
}

func NewEngine(opts EngineOptions) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	filterPct := opts.FilterPercentage
	if filterPct <= 0 {
		filterPct = usage.DefaultFilterPercentage
	}

	var catalogOpts []catalog.Option
	if opts.PageLimiter != nil {
		catalogOpts = append(catalogOpts, catalog.WithPageLimiter(opts.PageLimiter))
	}
	var alarmOpts []alarm.Option
	if opts.AlarmLimiter != nil {
		alarmOpts = append(alarmOpts, alarm.WithLimiter(opts.AlarmLimiter))
	}

	logger := opts.Logger
	cat := catalog.New(opts.Clients.ServiceQuotas, logger.Named("catalog"), catalogOpts...)
	return &Engine{
		accountID:  opts.AccountID,
		logger:     logger,
		clock:      clock,
		queries:    opts.Queries,
		filterPct:  filterPct,
		catalog:    cat,
		selector:   catalog.NewSelector(cat, opts.Clients.CostExplorer, clock, logger.Named("selector")),
		collector:  usage.NewCollector(opts.Clients.CloudWatch, opts.Clients.Config, clock, logger.Named("usage")),
		publisher:  publish.New(opts.Clients.Local, opts.AccountID, clock, logger.Named("publish")),
		reconciler: alarm.New(opts.Clients.Local, opts.AccountID, logger.Named("alarm"), alarmOpts...),
		workflow:   increase.New(opts.Clients.ServiceQuotas, opts.Clients.Support, logger.Named("increase")),
	}
}

// Collect gathers usage for every quota of the selected services and
// publishes it. Without selected services they are detected from billing.
// When no service can be selected a *catalog.SelectionError is returned and
// nothing is collected.
// The quota catalog of every service must be readable: a partial catalog
// would make ReconcileAlarms delete alarms of the unreadable services.
func (e *Engine) Collect(ctx context.Context, selected []string) error {
	services, err := e.selector.Select(ctx, selected)
	if err != nil {
		return xerrors.Errorf("select services: %w", err)
	}

	var eligible []model.Quota
	for _, svc := range services {
		quotas, err := e.catalog.Quotas(ctx, svc.Code)
		if err != nil {
			return err
		}
		eligible = append(eligible, e.queries.Attach(quotas)...)
	}

	var collected []model.Quota
	for _, batch := range usage.Batches(eligible) {
		withUsage, err := e.collector.Collect(ctx, batch)
		if err != nil {
			return err
		}
		filtered := usage.Filter(withUsage, e.filterPct)
		if err := e.publisher.Publish(ctx, filtered); err != nil {
			return err
		}
		collected = append(collected, filtered...)
	}

	e.collected = true
	e.quotas = collected
	e.snapshot = model.Snapshot{
		AccountID:   e.accountID,
		Quotas:      collected,
		Total:       len(collected),
		CollectedAt: e.clock.Now(),
	}

	withUsage := 0
	for _, q := range collected {
		if q.HasUsage() {
			withUsage++
		}
	}
	e.logger.Info(ctx, "collected quota usage",
		slog.F("services", len(services)),
		slog.F("quotas", len(collected)),
		slog.F("with_usage", withUsage),
	)
	return nil
}

// ReconcileAlarms brings the alarms of the account in line with the last
// collection. It does nothing before Collect has run.
func (e *Engine) ReconcileAlarms(ctx context.Context, cfg *config.AlertingConfig) (alarm.Result, error) {
	if !e.collected {
		e.logger.Warn(ctx, "no quotas collected, not reconciling alarms")
		return alarm.Result{}, nil
	}
	return e.reconciler.Reconcile(ctx, e.quotas, cfg)
}

// ResolveQuota looks up a single quota of the account.
func (e *Engine) ResolveQuota(ctx context.Context, serviceCode, quotaCode string) (model.Quota, error) {
	return e.catalog.Quota(ctx, serviceCode, quotaCode)
}

func (e *Engine) RequestIncrease(ctx context.Context, rule *model.IncreaseRule) error {
	return e.workflow.Request(ctx, rule)
}

// Quotas returns the quotas of the last collection.
func (e *Engine) Quotas() []model.Quota {
	return slices.Clone(e.quotas)
}

func (e *Engine) Snapshot() model.Snapshot {
	s := e.snapshot
	s.Quotas = slices.Clone(s.Quotas)
	return s
}
