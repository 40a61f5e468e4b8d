package usage

import (
	_ "embed"
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

//go:embed queries.json
var defaultQueries []byte

// Queries maps service code to quota code to the query deriving its usage.
type Queries map[string]map[string]model.CollectionQuery

type queryEntry struct {
	Type       string `json:"type"`
	Parameters struct {
		Expression string `json:"expression"`
		JMESPath   string `json:"jmespath"`
	} `json:"parameters"`
}

// DefaultQueries returns the built-in collection queries.
func DefaultQueries() (Queries, error) {
	return ParseQueries(defaultQueries)
}

func ParseQueries(data []byte) (Queries, error) {
	var raw map[string]map[string]queryEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("decode collection queries: %w", err)
	}

	queries := make(Queries, len(raw))
	for service, byQuota := range raw {
		queries[service] = make(map[string]model.CollectionQuery, len(byQuota))
		for quota, e := range byQuota {
			if e.Type != model.CollectionQueryTypeConfig {
				return nil, xerrors.Errorf("collection query %s/%s: unsupported type %q", service, quota, e.Type)
			}
			if e.Parameters.Expression == "" || e.Parameters.JMESPath == "" {
				return nil, xerrors.Errorf("collection query %s/%s: expression and jmespath are required", service, quota)
			}
			queries[service][quota] = model.CollectionQuery{
				Type:       e.Type,
				Expression: e.Parameters.Expression,
				JMESPath:   e.Parameters.JMESPath,
			}
		}
	}
	return queries, nil
}

// Attach returns the quotas usage can be collected for. Quotas without a
// native usage metric get their collection query attached when one exists.
func (q Queries) Attach(quotas []model.Quota) []model.Quota {
	out := make([]model.Quota, 0, len(quotas))
	for _, quota := range quotas {
		if quota.UsageMetric == nil {
			if query, ok := q[quota.ServiceCode][quota.QuotaCode]; ok {
				quota.CollectionQuery = &query
			}
		}
		if quota.Collectable() {
			out = append(out, quota)
		}
	}
	return out
}
