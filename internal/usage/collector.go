// Package usage reads current usage for quotas, either from the CloudWatch
// metric AWS publishes for the quota or from an AWS Config advanced query.
package usage

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"sort"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/coder/quartz"
	"github.com/jmespath/go-jmespath"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

const (
	// MaxBatchSize is the most metric queries a single GetMetricData call
	// accepts.
	MaxBatchSize = 500
	// DefaultPeriod is used unless the quota asks for its own period.
	DefaultPeriod = 5 * time.Minute
	// Window is how far back usage samples are read.
	Window = time.Hour
)

type CloudWatchAPI interface {
	cloudwatch.GetMetricDataAPIClient
}

type ConfigAPI interface {
	SelectResourceConfig(ctx context.Context, params *configservice.SelectResourceConfigInput, optFns ...func(*configservice.Options)) (*configservice.SelectResourceConfigOutput, error)
}

type Collector struct {
	cloudwatch CloudWatchAPI
	config     ConfigAPI
	clock      quartz.Clock
	logger     slog.Logger
}

func NewCollector(cw CloudWatchAPI, cfg ConfigAPI, clock quartz.Clock, logger slog.Logger) *Collector {
	return &Collector{
		cloudwatch: cw,
		config:     cfg,
		clock:      clock,
		logger:     logger,
	}
}

// Batches splits quotas into groups small enough for one collection call.
func Batches(quotas []model.Quota) [][]model.Quota {
	return slices.Collect(slices.Chunk(quotas, MaxBatchSize))
}

// Collect returns a copy of quotas with usage samples filled in, most recent
// first. A quota without any sample ends up with no values. Failing to read
// CloudWatch metrics is an error; a failing AWS Config query only costs the
// affected quota its signal.
func (c *Collector) Collect(ctx context.Context, quotas []model.Quota) ([]model.Quota, error) {
	out := slices.Clone(quotas)

	var native []model.Quota
	for _, q := range out {
		if q.UsesCloudWatch() {
			native = append(native, q)
		}
	}

	values := make(map[string][]float64, len(native))
	for _, batch := range Batches(native) {
		if err := c.metricData(ctx, batch, values); err != nil {
			return nil, err
		}
	}

	for i, q := range out {
		switch {
		case q.UsesCloudWatch():
			out[i].MetricValues = values[q.InternalID]
		case q.UsesConfig():
			out[i].MetricValues = c.queryConfig(ctx, q)
		default:
			out[i].MetricValues = nil
		}
	}
	return out, nil
}

func (c *Collector) metricData(ctx context.Context, batch []model.Quota, values map[string][]float64) error {
	end := c.clock.Now().Truncate(time.Hour)
	input := &cloudwatch.GetMetricDataInput{
		StartTime:         aws.Time(end.Add(-Window)),
		EndTime:           aws.Time(end),
		ScanBy:            cwtypes.ScanByTimestampDescending,
		MetricDataQueries: make([]cwtypes.MetricDataQuery, 0, len(batch)),
	}
	for _, q := range batch {
		input.MetricDataQueries = append(input.MetricDataQueries, metricQuery(q))
	}

	p := cloudwatch.NewGetMetricDataPaginator(c.cloudwatch, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return xerrors.Errorf("get metric data: %w", err)
		}
		for _, r := range page.MetricDataResults {
			id := aws.ToString(r.Id)
			values[id] = append(values[id], r.Values...)
		}
	}
	return nil
}

func metricQuery(q model.Quota) cwtypes.MetricDataQuery {
	period := DefaultPeriod
	if q.UsageMetric.Period > 0 {
		period = q.UsageMetric.Period
	}

	names := make([]string, 0, len(q.UsageMetric.Dimensions))
	for name := range q.UsageMetric.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	dims := make([]cwtypes.Dimension, 0, len(names))
	for _, name := range names {
		dims = append(dims, cwtypes.Dimension{
			Name:  aws.String(name),
			Value: aws.String(q.UsageMetric.Dimensions[name]),
		})
	}

	return cwtypes.MetricDataQuery{
		Id: aws.String(q.InternalID),
		MetricStat: &cwtypes.MetricStat{
			Metric: &cwtypes.Metric{
				Namespace:  aws.String(q.UsageMetric.Namespace),
				MetricName: aws.String(q.UsageMetric.MetricName),
				Dimensions: dims,
			},
			Period: aws.Int32(int32(period / time.Second)),
			Stat:   aws.String(q.Statistic()),
		},
	}
}

// queryConfig runs the quota's advanced query, applies its JMESPath
// expression to the aggregated results and returns the single sample found.
func (c *Collector) queryConfig(ctx context.Context, q model.Quota) []float64 {
	logger := c.logger.With(
		slog.F("service_code", q.ServiceCode),
		slog.F("quota_code", q.QuotaCode),
		slog.F("expression", q.CollectionQuery.Expression),
	)

	rows, err := c.selectAll(ctx, q.CollectionQuery.Expression)
	if err != nil {
		logger.Warn(ctx, "unable to run config query", slog.Error(err))
		return nil
	}
	if len(rows) == 0 {
		logger.Debug(ctx, "config query yielded no results")
		return nil
	}

	docs := make([]any, 0, len(rows))
	for _, row := range rows {
		var doc any
		if err := json.Unmarshal([]byte(row), &doc); err != nil {
			logger.Warn(ctx, "unable to decode config query result", slog.Error(err))
			return nil
		}
		docs = append(docs, doc)
	}

	result, err := jmespath.Search(q.CollectionQuery.JMESPath, docs)
	if err != nil {
		logger.Warn(ctx, "invalid jmespath expression",
			slog.F("jmespath", q.CollectionQuery.JMESPath), slog.Error(err))
		return nil
	}
	value, ok := toFloat(result)
	if !ok {
		logger.Warn(ctx, "jmespath expression did not yield a number",
			slog.F("jmespath", q.CollectionQuery.JMESPath), slog.F("result", result))
		return nil
	}
	return []float64{math.Round(value*10) / 10}
}

func (c *Collector) selectAll(ctx context.Context, expression string) ([]string, error) {
	input := &configservice.SelectResourceConfigInput{Expression: aws.String(expression)}
	var rows []string
	for {
		out, err := c.config.SelectResourceConfig(ctx, input)
		if err != nil {
			return nil, xerrors.Errorf("select resource config: %w", err)
		}
		rows = append(rows, out.Results...)
		if aws.ToString(out.NextToken) == "" {
			return rows, nil
		}
		input.NextToken = out.NextToken
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
