package model

import (
	"fmt"
	"time"
)

// CollectionQueryTypeConfig marks a collection query answered by an AWS Config
// advanced query.
const CollectionQueryTypeConfig = "config"

// Quota is a single service quota as collected for one account during one
// collection pass.
type Quota struct {
	ServiceCode string  `json:"service_code"`
	ServiceName string  `json:"service_name"`
	QuotaCode   string  `json:"quota_code"`
	QuotaName   string  `json:"quota_name"`
	ARN         string  `json:"arn,omitempty"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Adjustable  bool    `json:"adjustable"`
	Global      bool    `json:"global"`

	UsageMetric     *UsageMetric     `json:"usage_metric,omitempty"`
	CollectionQuery *CollectionQuery `json:"collection_query,omitempty"`

	// MetricValues holds usage samples, most recent first.
	MetricValues []float64 `json:"metric_values"`
	// InternalID correlates batched telemetry responses with the quota. It is
	// only unique within one collection pass.
	InternalID string `json:"-"`
}

// UsageMetric describes the CloudWatch metric AWS publishes for a quota.
type UsageMetric struct {
	Namespace  string            `json:"namespace"`
	MetricName string            `json:"metric_name"`
	Dimensions map[string]string `json:"dimensions"`
	Statistic  string            `json:"statistic,omitempty"`
	// Period is zero unless the quota asks for a specific sampling period.
	Period time.Duration `json:"period,omitempty"`
}

// CollectionQuery describes a custom way to derive usage for quotas without a
// native usage metric.
type CollectionQuery struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
	JMESPath   string `json:"jmespath"`
}

// Key identifies a quota within an account.
type Key struct {
	ServiceCode string
	QuotaCode   string
}

func (k Key) String() string {
	return k.ServiceCode + "#" + k.QuotaCode
}

func (q Quota) Key() Key {
	return Key{ServiceCode: q.ServiceCode, QuotaCode: q.QuotaCode}
}

// HasUsage reports whether the quota carries at least one usage sample.
func (q Quota) HasUsage() bool {
	return len(q.MetricValues) > 0
}

// LatestUsage returns the most recent usage sample.
func (q Quota) LatestUsage() (float64, bool) {
	if len(q.MetricValues) == 0 {
		return 0, false
	}
	return q.MetricValues[0], true
}

// UsesCloudWatch reports whether usage is read from the native usage metric.
func (q Quota) UsesCloudWatch() bool {
	return q.UsageMetric != nil
}

// UsesConfig reports whether usage is read through an AWS Config query.
func (q Quota) UsesConfig() bool {
	return q.UsageMetric == nil && q.CollectionQuery != nil && q.CollectionQuery.Type == CollectionQueryTypeConfig
}

// Collectable reports whether there is any way to collect usage for the quota.
func (q Quota) Collectable() bool {
	return q.UsesCloudWatch() || q.UsesConfig()
}

// Statistic returns the statistic to collect and alarm on.
func (q Quota) Statistic() string {
	if q.UsageMetric != nil && q.UsageMetric.Statistic != "" {
		return q.UsageMetric.Statistic
	}
	return "Maximum"
}

// UsagePercentage returns the latest usage as a percentage of the quota value.
func (q Quota) UsagePercentage() float64 {
	usage, ok := q.LatestUsage()
	if !ok || q.Value <= 0 {
		return 0
	}
	return usage / q.Value * 100
}

func (q Quota) String() string {
	return fmt.Sprintf("%s / %s", q.ServiceName, q.QuotaName)
}

type Service struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Snapshot is the outcome of one collection pass for an account.
type Snapshot struct {
	AccountID   string    `json:"account_id"`
	Quotas      []Quota   `json:"quotas"`
	Total       int       `json:"total"`
	CollectedAt time.Time `json:"collected_at"`
	FromCache   bool      `json:"from_cache"`
}
