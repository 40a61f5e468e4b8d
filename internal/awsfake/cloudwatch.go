package awsfake

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch fakes the CloudWatch API. Alarms written with PutMetricAlarm
// and removed with DeleteAlarms are reflected in later DescribeAlarms calls.
type CloudWatch struct {
	mu sync.Mutex

	// Values answers GetMetricData queries by query id. Ids without an
	// entry are left out of the response.
	Values   map[string][]float64
	Alarms   []cwtypes.MetricAlarm
	PageSize int

	MetricDataErr    error
	PutMetricDataErr error
	PutAlarmErr      error

	MetricDataInputs    []*cloudwatch.GetMetricDataInput
	PutMetricDataInputs []*cloudwatch.PutMetricDataInput
	DescribeInputs      []*cloudwatch.DescribeAlarmsInput
	PutAlarmInputs      []*cloudwatch.PutMetricAlarmInput
	DeleteInputs        []*cloudwatch.DeleteAlarmsInput
}

// Mutations returns the number of alarm create, update and delete calls.
func (f *CloudWatch) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.PutAlarmInputs) + len(f.DeleteInputs)
}

// ResetCalls forgets recorded calls but keeps the stored alarms.
func (f *CloudWatch) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetricDataInputs = nil
	f.PutMetricDataInputs = nil
	f.DescribeInputs = nil
	f.PutAlarmInputs = nil
	f.DeleteInputs = nil
}

func (f *CloudWatch) GetMetricData(_ context.Context, in *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetricDataInputs = append(f.MetricDataInputs, in)
	if f.MetricDataErr != nil {
		return nil, f.MetricDataErr
	}

	var results []cwtypes.MetricDataResult
	for _, q := range in.MetricDataQueries {
		values, ok := f.Values[aws.ToString(q.Id)]
		if !ok {
			continue
		}
		results = append(results, cwtypes.MetricDataResult{
			Id:         q.Id,
			Values:     values,
			StatusCode: cwtypes.StatusCodeComplete,
		})
	}
	items, next := page(results, f.PageSize, in.NextToken)
	return &cloudwatch.GetMetricDataOutput{MetricDataResults: items, NextToken: next}, nil
}

func (f *CloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutMetricDataInputs = append(f.PutMetricDataInputs, in)
	if f.PutMetricDataErr != nil {
		return nil, f.PutMetricDataErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *CloudWatch) DescribeAlarms(_ context.Context, in *cloudwatch.DescribeAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DescribeInputs = append(f.DescribeInputs, in)

	var matching []cwtypes.MetricAlarm
	for _, a := range f.Alarms {
		if strings.HasPrefix(aws.ToString(a.AlarmName), aws.ToString(in.AlarmNamePrefix)) {
			matching = append(matching, a)
		}
	}
	items, next := page(matching, f.PageSize, in.NextToken)
	return &cloudwatch.DescribeAlarmsOutput{MetricAlarms: items, NextToken: next}, nil
}

func (f *CloudWatch) PutMetricAlarm(_ context.Context, in *cloudwatch.PutMetricAlarmInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutAlarmInputs = append(f.PutAlarmInputs, in)
	if f.PutAlarmErr != nil {
		return nil, f.PutAlarmErr
	}

	alarm := cwtypes.MetricAlarm{
		AlarmName:          in.AlarmName,
		AlarmDescription:   in.AlarmDescription,
		MetricName:         in.MetricName,
		Namespace:          in.Namespace,
		Statistic:          in.Statistic,
		Dimensions:         slices.Clone(in.Dimensions),
		Period:             in.Period,
		EvaluationPeriods:  in.EvaluationPeriods,
		DatapointsToAlarm:  in.DatapointsToAlarm,
		Threshold:          in.Threshold,
		ComparisonOperator: in.ComparisonOperator,
		AlarmActions:       slices.Clone(in.AlarmActions),
	}
	for i, a := range f.Alarms {
		if aws.ToString(a.AlarmName) == aws.ToString(in.AlarmName) {
			f.Alarms[i] = alarm
			return &cloudwatch.PutMetricAlarmOutput{}, nil
		}
	}
	f.Alarms = append(f.Alarms, alarm)
	return &cloudwatch.PutMetricAlarmOutput{}, nil
}

func (f *CloudWatch) DeleteAlarms(_ context.Context, in *cloudwatch.DeleteAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteInputs = append(f.DeleteInputs, in)
	f.Alarms = slices.DeleteFunc(f.Alarms, func(a cwtypes.MetricAlarm) bool {
		return slices.Contains(in.AlarmNames, aws.ToString(a.AlarmName))
	})
	return &cloudwatch.DeleteAlarmsOutput{}, nil
}

// Dimensions builds CloudWatch dimensions from name/value pairs.
func Dimensions(pairs ...string) []cwtypes.Dimension {
	dims := make([]cwtypes.Dimension, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(pairs[i]), Value: aws.String(pairs[i+1])})
	}
	return dims
}
