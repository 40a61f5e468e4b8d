package usage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/awsfake"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/testutil"
	"github.com/yuxishi/aws-quota-manager/internal/usage"
)

func nativeQuota(id string) model.Quota {
	return model.Quota{
		ServiceCode: "lambda",
		ServiceName: "AWS Lambda",
		QuotaCode:   "L-" + id,
		QuotaName:   "Quota " + id,
		Value:       1000,
		InternalID:  id,
		UsageMetric: &model.UsageMetric{
			Namespace:  "AWS/Usage",
			MetricName: "ResourceCount",
			Dimensions: map[string]string{"Service": "Lambda", "Type": "Resource"},
		},
	}
}

func configQuota(expression, path string) model.Quota {
	return model.Quota{
		ServiceCode: "vpc",
		ServiceName: "Amazon Virtual Private Cloud (Amazon VPC)",
		QuotaCode:   "L-F678F1CE",
		QuotaName:   "VPCs per Region",
		Value:       5,
		InternalID:  "sq00099",
		CollectionQuery: &model.CollectionQuery{
			Type:       model.CollectionQueryTypeConfig,
			Expression: expression,
			JMESPath:   path,
		},
	}
}

func TestCollector_MissingIDYieldsNoValues(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, time.March, 3, 10, 42, 17, 0, time.UTC))

	cw := &awsfake.CloudWatch{
		Values: map[string][]float64{
			"sq00000": {12, 11},
			"sq00002": {7},
		},
		PageSize: 1,
	}
	collector := usage.NewCollector(cw, &awsfake.ConfigService{}, clock, testutil.Logger(t))

	batch := []model.Quota{nativeQuota("sq00000"), nativeQuota("sq00001"), nativeQuota("sq00002")}
	got, err := collector.Collect(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{12, 11}, got[0].MetricValues)
	assert.Empty(t, got[1].MetricValues)
	assert.Equal(t, []float64{7}, got[2].MetricValues)
	assert.Nil(t, batch[0].MetricValues, "input is not modified")

	// One call paged twice.
	require.Len(t, cw.MetricDataInputs, 2)
	in := cw.MetricDataInputs[0]
	assert.Equal(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC), aws.ToTime(in.StartTime))
	assert.Equal(t, time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC), aws.ToTime(in.EndTime))
	assert.Equal(t, cwtypes.ScanByTimestampDescending, in.ScanBy)
	require.Len(t, in.MetricDataQueries, 3)

	q := in.MetricDataQueries[0]
	assert.Equal(t, "sq00000", aws.ToString(q.Id))
	assert.Equal(t, "Maximum", aws.ToString(q.MetricStat.Stat))
	assert.EqualValues(t, 300, aws.ToInt32(q.MetricStat.Period))
	assert.Equal(t, awsfake.Dimensions("Service", "Lambda", "Type", "Resource"), q.MetricStat.Metric.Dimensions)
}

func TestCollector_CustomPeriodAndStatistic(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	collector := usage.NewCollector(cw, &awsfake.ConfigService{}, quartz.NewMock(t), testutil.Logger(t))

	q := nativeQuota("sq00000")
	q.UsageMetric.Period = time.Minute
	q.UsageMetric.Statistic = "Sum"
	_, err := collector.Collect(context.Background(), []model.Quota{q})
	require.NoError(t, err)

	stat := cw.MetricDataInputs[0].MetricDataQueries[0].MetricStat
	assert.EqualValues(t, 60, aws.ToInt32(stat.Period))
	assert.Equal(t, "Sum", aws.ToString(stat.Stat))
}

func TestCollector_SplitsLargeBatches(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	collector := usage.NewCollector(cw, &awsfake.ConfigService{}, quartz.NewMock(t), testutil.Logger(t))

	quotas := make([]model.Quota, 0, 1001)
	for i := range 1001 {
		quotas = append(quotas, nativeQuota(fmt.Sprintf("sq%05d", i)))
	}
	_, err := collector.Collect(context.Background(), quotas)
	require.NoError(t, err)

	require.Len(t, cw.MetricDataInputs, 3)
	assert.Len(t, cw.MetricDataInputs[0].MetricDataQueries, 500)
	assert.Len(t, cw.MetricDataInputs[1].MetricDataQueries, 500)
	assert.Len(t, cw.MetricDataInputs[2].MetricDataQueries, 1)
	assert.Len(t, usage.Batches(quotas), 3)
}

func TestCollector_MetricDataFailureIsFatal(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{MetricDataErr: xerrors.New("boom")}
	collector := usage.NewCollector(cw, &awsfake.ConfigService{}, quartz.NewMock(t), testutil.Logger(t))

	_, err := collector.Collect(context.Background(), []model.Quota{nativeQuota("sq00000")})
	require.ErrorIs(t, err, cw.MetricDataErr)
}

func TestCollector_ConfigQuery(t *testing.T) {
	t.Parallel()

	const count = "SELECT COUNT(*) WHERE resourceType = 'AWS::EC2::VPC'"
	const vpcs = "SELECT resourceId WHERE resourceType = 'AWS::EC2::VPC'"
	cfg := &awsfake.ConfigService{
		Rows: map[string][]string{
			count: {`{"COUNT(*)":3}`},
			vpcs:  {`{"resourceId":"vpc-1"}`, `{"resourceId":"vpc-2"}`, `{"resourceId":"vpc-3"}`},
			"SELECT nothing": nil,
			"SELECT garbage": {`{not json`},
		},
		Errs:     map[string]error{"SELECT broken": xerrors.New("invalid expression")},
		PageSize: 2,
	}
	collector := usage.NewCollector(&awsfake.CloudWatch{}, cfg, quartz.NewMock(t), testutil.Logger(t))

	tests := []struct {
		name       string
		expression string
		path       string
		want       []float64
	}{
		{name: "Count", expression: count, path: `[0]."COUNT(*)"`, want: []float64{3}},
		{name: "AcrossPages", expression: vpcs, path: "length(@)", want: []float64{3}},
		{name: "NoResults", expression: "SELECT nothing", path: "length(@)"},
		{name: "BadPath", expression: count, path: "[0].["},
		{name: "NotANumber", expression: vpcs, path: "[0].resourceId"},
		{name: "BadRow", expression: "SELECT garbage", path: "length(@)"},
		{name: "QueryFails", expression: "SELECT broken", path: "length(@)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := collector.Collect(context.Background(), []model.Quota{configQuota(tt.expression, tt.path)})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].MetricValues)
		})
	}
}

func TestCollector_RoundsConfigValues(t *testing.T) {
	t.Parallel()

	const expr = "SELECT SUM(configuration.size)"
	cfg := &awsfake.ConfigService{Rows: map[string][]string{expr: {`{"size":"12.345"}`}}}
	collector := usage.NewCollector(&awsfake.CloudWatch{}, cfg, quartz.NewMock(t), testutil.Logger(t))

	got, err := collector.Collect(context.Background(), []model.Quota{configQuota(expr, "[0].size")})
	require.NoError(t, err)
	assert.Equal(t, []float64{12.3}, got[0].MetricValues)
}
