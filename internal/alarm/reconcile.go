// Package alarm keeps the CloudWatch alarms of an account in line with its
// collected quota usage.
package alarm

import (
	"context"
	"slices"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

const (
	// PutsPerSecond caps PutMetricAlarm calls.
	PutsPerSecond = 3
	// MaxDeleteBatch is the most alarms DeleteAlarms takes at once.
	MaxDeleteBatch = 100
)

type CloudWatchAPI interface {
	cloudwatch.DescribeAlarmsAPIClient
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	DeleteAlarms(ctx context.Context, params *cloudwatch.DeleteAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

type Option func(*Reconciler)

// WithLimiter overrides the limiter spacing PutMetricAlarm calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Reconciler) {
		r.puts = l
	}
}

type Reconciler struct {
	client    CloudWatchAPI
	accountID string
	logger    slog.Logger
	puts      *rate.Limiter
}

func New(client CloudWatchAPI, accountID string, logger slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:    client,
		accountID: accountID,
		logger:    logger,
		puts:      rate.NewLimiter(rate.Limit(PutsPerSecond), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result counts what a reconciliation did.
type Result struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// Reconcile creates or updates the alarms the quotas call for and deletes
// the account's alarms nothing calls for anymore. Alarms of other accounts
// are never touched. Running it twice against the same state issues no
// mutations the second time.
//
// Existing alarms are scoped by their Key dimensions but diffed by name.
// The name is derived from the key plus the quota and service names, so an
// alarm whose quota was renamed counts as stale and is replaced rather than
// updated in place.
func (r *Reconciler) Reconcile(ctx context.Context, quotas []model.Quota, cfg *config.AlertingConfig) (Result, error) {
	var res Result
	if len(quotas) == 0 || cfg == nil {
		r.logger.Debug(ctx, "nothing to reconcile")
		return res, nil
	}

	actual, err := r.actual(ctx)
	if err != nil {
		return res, err
	}
	desired := Desired(r.accountID, quotas, cfg)

	wanted := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		wanted[d.Name] = struct{}{}

		current, exists := actual[d.Name]
		if exists && current.Equal(d) {
			res.Unchanged++
			continue
		}
		if err := r.put(ctx, d); err != nil {
			return res, err
		}
		if exists {
			res.Updated++
			r.logger.Info(ctx, "updated alarm", slog.F("alarm_name", d.Name), slog.F("threshold", d.Threshold))
		} else {
			res.Created++
			r.logger.Info(ctx, "created alarm", slog.F("alarm_name", d.Name), slog.F("threshold", d.Threshold))
		}
	}

	var stale []string
	for name := range actual {
		if _, ok := wanted[name]; !ok {
			stale = append(stale, name)
		}
	}
	slices.Sort(stale)
	for batch := range slices.Chunk(stale, MaxDeleteBatch) {
		if _, err := r.client.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: batch}); err != nil {
			return res, xerrors.Errorf("delete alarms: %w", err)
		}
		res.Deleted += len(batch)
		r.logger.Info(ctx, "deleted alarms", slog.F("alarm_names", batch))
	}

	r.logger.Info(ctx, "reconciled alarms",
		slog.F("created", res.Created),
		slog.F("updated", res.Updated),
		slog.F("unchanged", res.Unchanged),
		slog.F("deleted", res.Deleted),
	)
	return res, nil
}

func (r *Reconciler) put(ctx context.Context, d Definition) error {
	if err := r.puts.Wait(ctx); err != nil {
		return err
	}
	if _, err := r.client.PutMetricAlarm(ctx, d.putInput()); err != nil {
		return xerrors.Errorf("put metric alarm %q: %w", d.Name, err)
	}
	return nil
}

// actual returns the existing alarms of this account keyed by name. Alarms
// that do not identify a quota are left alone.
func (r *Reconciler) actual(ctx context.Context) (map[string]Definition, error) {
	p := cloudwatch.NewDescribeAlarmsPaginator(r.client, &cloudwatch.DescribeAlarmsInput{
		AlarmNamePrefix: aws.String(NamePrefix),
		AlarmTypes:      []cwtypes.AlarmType{cwtypes.AlarmTypeMetricAlarm},
	})

	alarms := make(map[string]Definition)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Errorf("describe alarms: %w", err)
		}
		for _, a := range page.MetricAlarms {
			d := fromMetricAlarm(a)
			key := d.Key()
			if key.AccountID != r.accountID || key.ServiceCode == "" || key.QuotaCode == "" {
				continue
			}
			alarms[d.Name] = d
		}
	}
	return alarms, nil
}
