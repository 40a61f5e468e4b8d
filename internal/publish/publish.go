// Package publish writes collected quota usage back to CloudWatch so alarms
// can be defined against it.
package publish

import (
	"context"
	"slices"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

const (
	Namespace  = "ServiceQuotaManager"
	MetricName = "ServiceQuotaUsage"
	// MaxBatchSize is the most data points sent per PutMetricData call.
	MaxBatchSize = 500
)

// Dimension names of the published metric.
const (
	DimensionAccountID   = "AccountId"
	DimensionServiceCode = "ServiceCode"
	DimensionQuotaCode   = "QuotaCode"
	DimensionQuotaName   = "QuotaName"
)

type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type Publisher struct {
	client    CloudWatchAPI
	accountID string
	clock     quartz.Clock
	logger    slog.Logger
}

func New(client CloudWatchAPI, accountID string, clock quartz.Clock, logger slog.Logger) *Publisher {
	return &Publisher{
		client:    client,
		accountID: accountID,
		clock:     clock,
		logger:    logger,
	}
}

// Dimensions returns the dimensions usage of quota is published under.
func Dimensions(accountID string, q model.Quota) []cwtypes.Dimension {
	return []cwtypes.Dimension{
		{Name: aws.String(DimensionAccountID), Value: aws.String(accountID)},
		{Name: aws.String(DimensionServiceCode), Value: aws.String(q.ServiceCode)},
		{Name: aws.String(DimensionQuotaCode), Value: aws.String(q.QuotaCode)},
		{Name: aws.String(DimensionQuotaName), Value: aws.String(q.QuotaName)},
	}
}

// Publish sends the most recent usage sample of every quota that has one.
func (p *Publisher) Publish(ctx context.Context, quotas []model.Quota) error {
	now := p.clock.Now()

	var data []cwtypes.MetricDatum
	for _, q := range quotas {
		latest, ok := q.LatestUsage()
		if !ok {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricName),
			Dimensions: Dimensions(p.accountID, q),
			Timestamp:  aws.Time(now),
			Value:      aws.Float64(latest),
		})
	}
	if len(data) == 0 {
		return nil
	}

	for batch := range slices.Chunk(data, MaxBatchSize) {
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(Namespace),
			MetricData: batch,
		})
		if err != nil {
			return xerrors.Errorf("put metric data: %w", err)
		}
	}
	p.logger.Debug(ctx, "published quota usage", slog.F("data_points", len(data)))
	return nil
}
