package alarm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/alarm"
	"github.com/yuxishi/aws-quota-manager/internal/awsfake"
	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/testutil"
)

const account = "111122223333"

func newReconciler(t *testing.T, cw *awsfake.CloudWatch) *alarm.Reconciler {
	t.Helper()
	return alarm.New(cw, account, testutil.Logger(t), alarm.WithLimiter(rate.NewLimiter(rate.Inf, 0)))
}

func quotas() []model.Quota {
	return []model.Quota{
		{
			ServiceCode: "lambda", ServiceName: "AWS Lambda",
			QuotaCode: "L-B99A9384", QuotaName: "Concurrent executions",
			Value: 1000, Adjustable: true, MetricValues: []float64{300},
			UsageMetric: &model.UsageMetric{Statistic: "Maximum"},
		},
		{
			ServiceCode: "vpc", ServiceName: "Amazon Virtual Private Cloud (Amazon VPC)",
			QuotaCode: "L-F678F1CE", QuotaName: "VPCs per Region",
			Value: 5, MetricValues: []float64{3},
		},
		{
			ServiceCode: "lambda", ServiceName: "AWS Lambda",
			QuotaCode: "L-2ACBD22F", QuotaName: "Function and layer storage",
			Value: 75,
		},
	}
}

func alerting() *config.AlertingConfig {
	return &config.AlertingConfig{
		DefaultThresholdPerc: 80,
		NotificationTopicARN: "arn:aws:sns:eu-west-1:111122223333:quota-alerts",
		Rules: map[string]map[string]config.AlarmRule{
			"Amazon Virtual Private Cloud (Amazon VPC)": {"VPCs per Region": {ThresholdPerc: 50}},
		},
	}
}

func TestReconcile_CreatesAlarms(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	res, err := newReconciler(t, cw).Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{Created: 2}, res)
	require.Len(t, cw.PutAlarmInputs, 2)

	in := cw.PutAlarmInputs[0]
	assert.Equal(t, "Service Quota: Concurrent executions for service AWS Lambda in account 111122223333", aws.ToString(in.AlarmName))
	assert.Equal(t, "The service quota for Concurrent executions for service AWS Lambda in account 111122223333 is nearing its configured quota (1000). This quota is adjustable.",
		aws.ToString(in.AlarmDescription))
	assert.Equal(t, "ServiceQuotaManager", aws.ToString(in.Namespace))
	assert.Equal(t, "ServiceQuotaUsage", aws.ToString(in.MetricName))
	assert.Equal(t, cwtypes.StatisticMaximum, in.Statistic)
	assert.EqualValues(t, 3600, aws.ToInt32(in.Period))
	assert.EqualValues(t, 3, aws.ToInt32(in.EvaluationPeriods))
	assert.EqualValues(t, 2, aws.ToInt32(in.DatapointsToAlarm))
	assert.Equal(t, 800.0, aws.ToFloat64(in.Threshold))
	assert.Equal(t, cwtypes.ComparisonOperatorGreaterThanThreshold, in.ComparisonOperator)
	assert.Equal(t, []string{"arn:aws:sns:eu-west-1:111122223333:quota-alerts"}, in.AlarmActions)
	assert.ElementsMatch(t, awsfake.Dimensions(
		"AccountId", account,
		"ServiceCode", "lambda",
		"QuotaCode", "L-B99A9384",
		"QuotaName", "Concurrent executions",
	), in.Dimensions)

	vpc := cw.PutAlarmInputs[1]
	assert.Equal(t, 2.5, aws.ToFloat64(vpc.Threshold), "rule override")
	assert.NotContains(t, aws.ToString(vpc.AlarmDescription), "adjustable")
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{PageSize: 1}
	r := newReconciler(t, cw)

	_, err := r.Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	cw.ResetCalls()

	res, err := r.Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{Unchanged: 2}, res)
	assert.Zero(t, cw.Mutations())
}

func TestReconcile_UpdatesChangedAlarm(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	r := newReconciler(t, cw)
	_, err := r.Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	cw.ResetCalls()

	cfg := alerting()
	cfg.DefaultThresholdPerc = 90
	res, err := r.Reconcile(context.Background(), quotas(), cfg)
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{Updated: 1, Unchanged: 1}, res)
	require.Len(t, cw.PutAlarmInputs, 1)
	assert.Equal(t, 900.0, aws.ToFloat64(cw.PutAlarmInputs[0].Threshold))
}

func TestReconcile_IgnoreRuleRemovesAlarm(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	r := newReconciler(t, cw)
	_, err := r.Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	cw.ResetCalls()

	cfg := alerting()
	cfg.Rules["AWS Lambda"] = map[string]config.AlarmRule{"Concurrent executions": {Ignore: true}}
	res, err := r.Reconcile(context.Background(), quotas(), cfg)
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{Unchanged: 1, Deleted: 1}, res)
	require.Len(t, cw.DeleteInputs, 1)
	assert.Equal(t, []string{alarm.Name(account, quotas()[0])}, cw.DeleteInputs[0].AlarmNames)
}

func TestReconcile_AccountScoping(t *testing.T) {
	t.Parallel()

	other := cwtypes.MetricAlarm{
		AlarmName: aws.String("Service Quota: Concurrent executions for service AWS Lambda in account 999988887777"),
		Dimensions: awsfake.Dimensions(
			"AccountId", "999988887777",
			"ServiceCode", "lambda",
			"QuotaCode", "L-B99A9384",
		),
	}
	unkeyed := cwtypes.MetricAlarm{
		AlarmName:  aws.String("Service Quota: hand made"),
		Dimensions: awsfake.Dimensions("AccountId", account),
	}
	cw := &awsfake.CloudWatch{Alarms: []cwtypes.MetricAlarm{other, unkeyed}}

	// Only alarms of another account or without a quota key exist.
	idle := quotas()
	for i := range idle {
		idle[i].MetricValues = nil
	}
	res, err := newReconciler(t, cw).Reconcile(context.Background(), idle, alerting())
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{}, res)
	assert.Zero(t, cw.Mutations())
	assert.Len(t, cw.Alarms, 2)
}

func TestReconcile_RenamedQuotaReplacesAlarm(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	_, err := newReconciler(t, cw).Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	cw.ResetCalls()

	renamed := quotas()
	renamed[0].QuotaName = "Concurrent executions per Region"
	res, err := newReconciler(t, cw).Reconcile(context.Background(), renamed, alerting())
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{Created: 1, Unchanged: 1, Deleted: 1}, res)

	require.Len(t, cw.DeleteInputs, 1)
	assert.Equal(t, []string{"Service Quota: Concurrent executions for service AWS Lambda in account 111122223333"}, cw.DeleteInputs[0].AlarmNames)
	assert.Len(t, cw.Alarms, 2)
}

func TestReconcile_DeletesInChunks(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	for i := range 250 {
		cw.Alarms = append(cw.Alarms, cwtypes.MetricAlarm{
			AlarmName: aws.String(fmt.Sprintf("Service Quota: quota %03d", i)),
			Dimensions: awsfake.Dimensions(
				"AccountId", account,
				"ServiceCode", "ec2",
				"QuotaCode", fmt.Sprintf("L-%03d", i),
			),
		})
	}

	res, err := newReconciler(t, cw).Reconcile(context.Background(), quotas(), alerting())
	require.NoError(t, err)
	assert.Equal(t, 250, res.Deleted)
	require.Len(t, cw.DeleteInputs, 3)
	assert.Len(t, cw.DeleteInputs[0].AlarmNames, 100)
	assert.Len(t, cw.DeleteInputs[1].AlarmNames, 100)
	assert.Len(t, cw.DeleteInputs[2].AlarmNames, 50)
	assert.Len(t, cw.Alarms, 2)
}

func TestReconcile_NoOp(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	r := newReconciler(t, cw)

	res, err := r.Reconcile(context.Background(), nil, alerting())
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{}, res)

	res, err = r.Reconcile(context.Background(), quotas(), nil)
	require.NoError(t, err)
	assert.Equal(t, alarm.Result{}, res)
	assert.Empty(t, cw.DescribeInputs)
}

func TestReconcile_PutFailure(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{PutAlarmErr: xerrors.New("limit exceeded")}
	_, err := newReconciler(t, cw).Reconcile(context.Background(), quotas(), alerting())
	require.ErrorIs(t, err, cw.PutAlarmErr)
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 800.0, alarm.Threshold(1000, 80))
	assert.Equal(t, 2.5, alarm.Threshold(5, 50))
	assert.Equal(t, 0.3, alarm.Threshold(1, 33))
	assert.Equal(t, 33.3, alarm.Threshold(37, 90))
}
