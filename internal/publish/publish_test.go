package publish_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/awsfake"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/publish"
	"github.com/yuxishi/aws-quota-manager/internal/testutil"
)

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	clock := quartz.NewMock(t)
	clock.Set(now)
	cw := &awsfake.CloudWatch{}
	p := publish.New(cw, "111122223333", clock, testutil.Logger(t))

	err := p.Publish(context.Background(), []model.Quota{
		{ServiceCode: "lambda", QuotaCode: "L-B99A9384", QuotaName: "Concurrent executions", MetricValues: []float64{420, 12}},
		{ServiceCode: "lambda", QuotaCode: "L-2ACBD22F", QuotaName: "Function and layer storage"},
	})
	require.NoError(t, err)

	require.Len(t, cw.PutMetricDataInputs, 1)
	in := cw.PutMetricDataInputs[0]
	assert.Equal(t, publish.Namespace, aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 1)

	datum := in.MetricData[0]
	assert.Equal(t, publish.MetricName, aws.ToString(datum.MetricName))
	assert.Equal(t, 420.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, now, aws.ToTime(datum.Timestamp))
	assert.Equal(t, awsfake.Dimensions(
		"AccountId", "111122223333",
		"ServiceCode", "lambda",
		"QuotaCode", "L-B99A9384",
		"QuotaName", "Concurrent executions",
	), datum.Dimensions)
}

func TestPublisher_NothingToPublish(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	p := publish.New(cw, "111122223333", quartz.NewMock(t), testutil.Logger(t))

	require.NoError(t, p.Publish(context.Background(), []model.Quota{{QuotaCode: "L-1"}}))
	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Empty(t, cw.PutMetricDataInputs)
}

func TestPublisher_Batches(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{}
	p := publish.New(cw, "111122223333", quartz.NewMock(t), testutil.Logger(t))

	quotas := make([]model.Quota, 0, 750)
	for i := range 750 {
		quotas = append(quotas, model.Quota{QuotaCode: fmt.Sprintf("L-%d", i), MetricValues: []float64{1}})
	}
	require.NoError(t, p.Publish(context.Background(), quotas))
	require.Len(t, cw.PutMetricDataInputs, 2)
	assert.Len(t, cw.PutMetricDataInputs[0].MetricData, 500)
	assert.Len(t, cw.PutMetricDataInputs[1].MetricData, 250)
}

func TestPublisher_Failure(t *testing.T) {
	t.Parallel()

	cw := &awsfake.CloudWatch{PutMetricDataErr: xerrors.New("throttled")}
	p := publish.New(cw, "111122223333", quartz.NewMock(t), testutil.Logger(t))

	err := p.Publish(context.Background(), []model.Quota{{QuotaCode: "L-1", MetricValues: []float64{1}}})
	require.ErrorIs(t, err, cw.PutMetricDataErr)
}
