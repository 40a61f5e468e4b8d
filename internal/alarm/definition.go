package alarm

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/publish"
)

const (
	// NamePrefix starts the name of every alarm the manager owns.
	NamePrefix        = "Service Quota:"
	Period            = time.Hour
	EvaluationPeriods = 3
	DatapointsToAlarm = 2
)

// Key identifies the quota an alarm watches.
type Key struct {
	ServiceCode string
	QuotaCode   string
	AccountID   string
}

// Definition is the part of a CloudWatch metric alarm the manager controls.
type Definition struct {
	Name               string
	Description        string
	Namespace          string
	MetricName         string
	Statistic          string
	Dimensions         map[string]string
	Period             time.Duration
	EvaluationPeriods  int32
	DatapointsToAlarm  int32
	Threshold          float64
	ComparisonOperator cwtypes.ComparisonOperator
	Actions            []string
}

func (d Definition) Key() Key {
	return Key{
		ServiceCode: d.Dimensions[publish.DimensionServiceCode],
		QuotaCode:   d.Dimensions[publish.DimensionQuotaCode],
		AccountID:   d.Dimensions[publish.DimensionAccountID],
	}
}

// Equal compares every field. Dimensions are compared as a set, actions in
// order.
func (d Definition) Equal(o Definition) bool {
	return d.Name == o.Name &&
		d.Description == o.Description &&
		d.Namespace == o.Namespace &&
		d.MetricName == o.MetricName &&
		d.Statistic == o.Statistic &&
		maps.Equal(d.Dimensions, o.Dimensions) &&
		d.Period == o.Period &&
		d.EvaluationPeriods == o.EvaluationPeriods &&
		d.DatapointsToAlarm == o.DatapointsToAlarm &&
		d.Threshold == o.Threshold &&
		d.ComparisonOperator == o.ComparisonOperator &&
		slices.Equal(d.Actions, o.Actions)
}

// Name returns the alarm name for a quota of an account.
func Name(accountID string, q model.Quota) string {
	return fmt.Sprintf("%s %s for service %s in account %s", NamePrefix, q.QuotaName, q.ServiceName, accountID)
}

func description(accountID string, q model.Quota) string {
	desc := fmt.Sprintf("The service quota for %s for service %s in account %s is nearing its configured quota (%s).",
		q.QuotaName, q.ServiceName, accountID, strconv.FormatFloat(q.Value, 'f', -1, 64))
	if q.Adjustable {
		desc += " This quota is adjustable."
	}
	return desc
}

// Threshold returns pct percent of value, rounded to one decimal.
func Threshold(value, pct float64) float64 {
	return math.Round(value*pct/100*10) / 10
}

// Desired returns the alarms that should exist for the collected quotas.
// Quotas without usage or with alarms switched off get none.
func Desired(accountID string, quotas []model.Quota, cfg *config.AlertingConfig) []Definition {
	var defs []Definition
	for _, q := range quotas {
		if !q.HasUsage() || cfg.Ignored(q) {
			continue
		}

		dims := make(map[string]string)
		for _, d := range publish.Dimensions(accountID, q) {
			dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
		}
		var actions []string
		if cfg.NotificationTopicARN != "" {
			actions = []string{cfg.NotificationTopicARN}
		}

		defs = append(defs, Definition{
			Name:               Name(accountID, q),
			Description:        description(accountID, q),
			Namespace:          publish.Namespace,
			MetricName:         publish.MetricName,
			Statistic:          q.Statistic(),
			Dimensions:         dims,
			Period:             Period,
			EvaluationPeriods:  EvaluationPeriods,
			DatapointsToAlarm:  DatapointsToAlarm,
			Threshold:          Threshold(q.Value, cfg.ThresholdPerc(q)),
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
			Actions:            actions,
		})
	}
	return defs
}

func fromMetricAlarm(a cwtypes.MetricAlarm) Definition {
	dims := make(map[string]string, len(a.Dimensions))
	for _, d := range a.Dimensions {
		dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	return Definition{
		Name:               aws.ToString(a.AlarmName),
		Description:        aws.ToString(a.AlarmDescription),
		Namespace:          aws.ToString(a.Namespace),
		MetricName:         aws.ToString(a.MetricName),
		Statistic:          string(a.Statistic),
		Dimensions:         dims,
		Period:             time.Duration(aws.ToInt32(a.Period)) * time.Second,
		EvaluationPeriods:  aws.ToInt32(a.EvaluationPeriods),
		DatapointsToAlarm:  aws.ToInt32(a.DatapointsToAlarm),
		Threshold:          aws.ToFloat64(a.Threshold),
		ComparisonOperator: a.ComparisonOperator,
		Actions:            a.AlarmActions,
	}
}

func (d Definition) putInput() *cloudwatch.PutMetricAlarmInput {
	names := slices.Collect(maps.Keys(d.Dimensions))
	sort.Strings(names)
	dims := make([]cwtypes.Dimension, 0, len(names))
	for _, name := range names {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(name), Value: aws.String(d.Dimensions[name])})
	}

	return &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(d.Name),
		AlarmDescription:   aws.String(d.Description),
		Namespace:          aws.String(d.Namespace),
		MetricName:         aws.String(d.MetricName),
		Statistic:          cwtypes.Statistic(d.Statistic),
		Dimensions:         dims,
		Period:             aws.Int32(int32(d.Period / time.Second)),
		EvaluationPeriods:  aws.Int32(d.EvaluationPeriods),
		DatapointsToAlarm:  aws.Int32(d.DatapointsToAlarm),
		Threshold:          aws.Float64(d.Threshold),
		ComparisonOperator: d.ComparisonOperator,
		AlarmActions:       d.Actions,
	}
}
