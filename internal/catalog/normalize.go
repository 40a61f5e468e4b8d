package catalog

import (
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sqtypes "github.com/aws/aws-sdk-go-v2/service/servicequotas/types"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

// maxMetricPeriod bounds custom sampling periods to the collection window.
const maxMetricPeriod = time.Hour

// FromSDK converts a Service Quotas record into a model.Quota. This is the
// only place SDK quota shapes are read.
func FromSDK(q sqtypes.ServiceQuota) model.Quota {
	quota := model.Quota{
		ServiceCode: aws.ToString(q.ServiceCode),
		ServiceName: aws.ToString(q.ServiceName),
		QuotaCode:   aws.ToString(q.QuotaCode),
		QuotaName:   aws.ToString(q.QuotaName),
		ARN:         aws.ToString(q.QuotaArn),
		Value:       aws.ToFloat64(q.Value),
		Unit:        aws.ToString(q.Unit),
		Adjustable:  q.Adjustable,
		Global:      q.GlobalQuota,
	}

	if m := q.UsageMetric; m != nil && m.MetricNamespace != nil && m.MetricName != nil {
		quota.UsageMetric = &model.UsageMetric{
			Namespace:  aws.ToString(m.MetricNamespace),
			MetricName: aws.ToString(m.MetricName),
			Dimensions: maps.Clone(m.MetricDimensions),
			Statistic:  aws.ToString(m.MetricStatisticRecommendation),
			Period:     metricPeriod(q.Period),
		}
	}

	return quota
}

// metricPeriod converts the period a quota is measured over into a
// CloudWatch period. Periods CloudWatch can not sample within the collection
// window yield zero, meaning the default period.
func metricPeriod(p *sqtypes.QuotaPeriod) time.Duration {
	if p == nil || p.PeriodValue == nil {
		return 0
	}

	var unit time.Duration
	switch p.PeriodUnit {
	case sqtypes.PeriodUnitSecond:
		unit = time.Second
	case sqtypes.PeriodUnitMinute:
		unit = time.Minute
	case sqtypes.PeriodUnitHour:
		unit = time.Hour
	default:
		return 0
	}

	d := time.Duration(*p.PeriodValue) * unit
	if d < time.Minute || d%time.Minute != 0 || d > maxMetricPeriod {
		return 0
	}
	return d
}
