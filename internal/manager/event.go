package manager

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/publish"
)

const (
	ActionCollect  = "CollectServiceQuotas"
	ActionIncrease = "IncreaseServiceQuota"
)

// Event is an invocation of the manager. Scheduled invocations name the
// account; alarm triggered ones carry the alarm instead.
type Event struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id,omitempty"`
	// ConfigBucket and ConfigKey point at the account configuration document
	// when it is not the configured one.
	ConfigBucket string        `json:"config_bucket,omitempty"`
	ConfigKey    string        `json:"config_key,omitempty"`
	ServiceCode  string        `json:"service_code,omitempty"`
	QuotaCode    string        `json:"quota_code,omitempty"`
	Alarm        *AlarmPayload `json:"alarm,omitempty"`
}

// AlarmPayload is the part of a CloudWatch alarm state change the manager
// reads.
type AlarmPayload struct {
	Configuration struct {
		Metrics []struct {
			MetricStat struct {
				Metric struct {
					Dimensions map[string]string `json:"dimensions"`
				} `json:"metric"`
			} `json:"metricStat"`
		} `json:"metrics"`
	} `json:"configuration"`
}

func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, xerrors.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Dimensions returns the dimensions of the alarmed metric.
func (a *AlarmPayload) Dimensions() map[string]string {
	if a == nil || len(a.Configuration.Metrics) == 0 {
		return nil
	}
	return a.Configuration.Metrics[0].MetricStat.Metric.Dimensions
}

// Account returns the account the event is about.
func (e Event) Account() string {
	if e.AccountID != "" {
		return e.AccountID
	}
	return e.Alarm.Dimensions()[publish.DimensionAccountID]
}

// Quota returns the service and quota code the event is about.
func (e Event) Quota() (serviceCode, quotaCode string) {
	if e.ServiceCode != "" && e.QuotaCode != "" {
		return e.ServiceCode, e.QuotaCode
	}
	dims := e.Alarm.Dimensions()
	return dims[publish.DimensionServiceCode], dims[publish.DimensionQuotaCode]
}
