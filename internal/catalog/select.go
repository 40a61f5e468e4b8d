package catalog

import (
	"context"
	"slices"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

// BillingLookback is how far back cost and usage is inspected when detecting
// services.
const BillingLookback = 30 * 24 * time.Hour

// BillingDenyList holds cost line items that never name a service.
var BillingDenyList = []string{"Tax", "EC2 - Other"}

type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Selector decides which services to collect quotas for.
type Selector struct {
	catalog *Catalog
	billing CostExplorerAPI
	clock   quartz.Clock
	logger  slog.Logger
}

func NewSelector(catalog *Catalog, billing CostExplorerAPI, clock quartz.Clock, logger slog.Logger) *Selector {
	return &Selector{
		catalog: catalog,
		billing: billing,
		clock:   clock,
		logger:  logger,
	}
}

// SelectionError reports why no service could be selected. Err, when set,
// carries the underlying cause.
type SelectionError struct {
	Reason string
	Err    error
}

func (e *SelectionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *SelectionError) Unwrap() error {
	return e.Err
}

// Select returns the services matching the selected service names, compared
// exactly. Without selected names, services are detected from the cost and
// usage of the last 30 days. When nothing can be selected a *SelectionError
// is returned; it is left to the caller to report it.
func (s *Selector) Select(ctx context.Context, selected []string) ([]model.Service, error) {
	var detected []string
	if len(selected) == 0 {
		var err error
		detected, err = s.detectFromBilling(ctx)
		if err != nil {
			return nil, &SelectionError{Reason: "no services selected and unable to detect them from billing", Err: err}
		}
		if len(detected) == 0 {
			return nil, &SelectionError{Reason: "no services selected and none detected from billing"}
		}
	}

	services, err := s.catalog.Services(ctx)
	if err != nil {
		return nil, err
	}

	if len(selected) == 0 {
		filtered := s.matchDetected(ctx, services, detected)
		if len(filtered) == 0 {
			return nil, &SelectionError{
				Reason: "no services selected and no billing item matches a known service",
				Err:    xerrors.Errorf("billing items: %s", strings.Join(detected, ", ")),
			}
		}
		return filtered, nil
	}

	filtered, unmatched := matchSelected(services, selected)
	if len(filtered) == 0 {
		return nil, &SelectionError{
			Reason: "none of the selected services exist",
			Err:    xerrors.Errorf("services: %s", strings.Join(unmatched, ", ")),
		}
	}
	if len(unmatched) > 0 {
		s.logger.Warn(ctx, "selected services do not exist, maybe a service code was used instead of a service name",
			slog.F("services", strings.Join(unmatched, ", ")))
	}
	return filtered, nil
}

func matchSelected(services []model.Service, selected []string) (filtered []model.Service, unmatched []string) {
	matched := make(map[string]bool, len(selected))
	for _, svc := range services {
		if slices.Contains(selected, svc.Name) && !matched[svc.Name] {
			filtered = append(filtered, svc)
			matched[svc.Name] = true
		}
	}
	for _, name := range selected {
		if !matched[name] {
			unmatched = append(unmatched, name)
		}
	}
	return filtered, unmatched
}

// matchDetected selects every service that is similar enough to a detected
// billing item. A billing item selects at most one service.
func (s *Selector) matchDetected(ctx context.Context, services []model.Service, detected []string) []model.Service {
	pool := slices.Clone(detected)

	var filtered []model.Service
	for _, svc := range services {
		for i, name := range pool {
			if Similarity(name, svc.Name) < SimilarityThreshold {
				continue
			}
			filtered = append(filtered, svc)
			pool = slices.Delete(pool, i, i+1)
			s.logger.Info(ctx, "selected service based on cost and usage",
				slog.F("service_name", svc.Name), slog.F("billing_item", name))
			break
		}
	}
	return filtered
}

// detectFromBilling returns the distinct service names with cost in the
// billing lookback window, deny-listed items excluded.
func (s *Selector) detectFromBilling(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(now.Add(-BillingLookback).Format(time.DateOnly)),
			End:   aws.String(now.Format(time.DateOnly)),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"BlendedCost"},
		GroupBy: []cetypes.GroupDefinition{{
			Type: cetypes.GroupDefinitionTypeDimension,
			Key:  aws.String("SERVICE"),
		}},
	}

	var names []string
	for {
		out, err := s.billing.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, xerrors.Errorf("get cost and usage: %w", err)
		}
		for _, result := range out.ResultsByTime {
			for _, group := range result.Groups {
				if len(group.Keys) == 0 {
					continue
				}
				name := group.Keys[0]
				if slices.Contains(BillingDenyList, name) || slices.Contains(names, name) {
					continue
				}
				names = append(names, name)
			}
		}
		if aws.ToString(out.NextPageToken) == "" {
			return names, nil
		}
		input.NextPageToken = out.NextPageToken
	}
}
