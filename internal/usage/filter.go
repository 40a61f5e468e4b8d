package usage

import "github.com/yuxishi/aws-quota-manager/internal/model"

// DefaultFilterPercentage is the share of a quota below which usage is too
// low to be worth tracking.
const DefaultFilterPercentage = 10.0

// Filter returns a copy of quotas where insignificant usage has been
// cleared. Usage is insignificant when the most recent sample is below pct
// percent of the quota value. Quotas without a value are left untouched.
func Filter(quotas []model.Quota, pct float64) []model.Quota {
	out := make([]model.Quota, len(quotas))
	for i, q := range quotas {
		out[i] = q
		latest, ok := q.LatestUsage()
		if !ok || q.Value == 0 {
			continue
		}
		if latest < q.Value*pct/100 {
			out[i].MetricValues = nil
		}
	}
	return out
}
