package config

import (
	"errors"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

var (
	ErrAccountNotFound = xerrors.New("no configuration found for account")
	ErrInvalidAccount  = xerrors.New("invalid account configuration")
)

// Document is the account configuration document: one entry per managed
// account. It is stored as YAML or JSON.
type Document []Account

// Account holds everything the manager needs to know about one account.
type Account struct {
	AccountID        string          `yaml:"account_id" json:"account_id"`
	RoleName         string          `yaml:"role_name" json:"role_name"`
	SelectedServices []string        `yaml:"selected_services" json:"selected_services"`
	Alerting         *AlertingConfig `yaml:"alerting_config" json:"alerting_config"`
	// IncreaseRules is keyed by service name, then quota name.
	IncreaseRules map[string]map[string]IncreaseRule `yaml:"quota_increase_config" json:"quota_increase_config"`
}

// AlertingConfig controls how alarms are derived from collected usage.
type AlertingConfig struct {
	DefaultThresholdPerc float64 `yaml:"default_threshold_perc" json:"default_threshold_perc"`
	NotificationTopicARN string  `yaml:"notification_topic_arn" json:"notification_topic_arn"`
	// Rules is keyed by service name, then quota name.
	Rules map[string]map[string]AlarmRule `yaml:"rules" json:"rules"`
}

type AlarmRule struct {
	ThresholdPerc float64 `yaml:"threshold_perc" json:"threshold_perc"`
	Ignore        bool    `yaml:"ignore" json:"ignore"`
}

type IncreaseRule struct {
	Step        *float64 `yaml:"step" json:"step"`
	Factor      *float64 `yaml:"factor" json:"factor"`
	Motivation  string   `yaml:"motivation" json:"motivation"`
	CCAddresses []string `yaml:"cc_mail_addresses" json:"cc_mail_addresses"`
}

// ParseDocument decodes a YAML or JSON account configuration document.
// Entries are validated one by one when they are looked up, so a broken
// entry only affects its own account.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Errorf("decode account configuration: %w", err)
	}
	return doc, nil
}

// Account returns the validated entry for the given account id.
func (d Document) Account(accountID string) (Account, error) {
	for _, acct := range d {
		if acct.AccountID != accountID {
			continue
		}
		if err := acct.Validate(); err != nil {
			return Account{}, err
		}
		return acct, nil
	}
	return Account{}, xerrors.Errorf("account %s: %w", accountID, ErrAccountNotFound)
}

// IsInvalid reports whether err comes from an account entry that failed
// validation.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidAccount) || errors.Is(err, model.ErrInvalidRule)
}

// AccountIDs returns all configured account ids in document order.
func (d Document) AccountIDs() []string {
	ids := make([]string, 0, len(d))
	for _, acct := range d {
		ids = append(ids, acct.AccountID)
	}
	return ids
}

func (a Account) Validate() error {
	if a.AccountID == "" {
		return xerrors.Errorf("missing account_id: %w", ErrInvalidAccount)
	}
	if a.RoleName == "" {
		return xerrors.Errorf("account %s: missing role_name: %w", a.AccountID, ErrInvalidAccount)
	}
	if a.Alerting != nil {
		if err := a.Alerting.validate(); err != nil {
			return xerrors.Errorf("account %s: %v: %w", a.AccountID, err, ErrInvalidAccount)
		}
	}
	for serviceName, rules := range a.IncreaseRules {
		for quotaName, rule := range rules {
			if (rule.Step == nil) == (rule.Factor == nil) {
				return xerrors.Errorf("account %s: %s / %s: %w", a.AccountID, serviceName, quotaName, model.ErrInvalidRule)
			}
		}
	}
	return nil
}

// Services returns the selected services with duplicates removed.
func (a Account) Services() []string {
	seen := make(map[string]struct{}, len(a.SelectedServices))
	services := make([]string, 0, len(a.SelectedServices))
	for _, name := range a.SelectedServices {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		services = append(services, name)
	}
	return services
}

// IncreaseRuleFor resolves the increase rule for a quota, or nil when the
// quota has none.
func (a Account) IncreaseRuleFor(quota model.Quota) *model.IncreaseRule {
	def, ok := a.IncreaseRules[quota.ServiceName][quota.QuotaName]
	if !ok {
		return nil
	}
	return &model.IncreaseRule{
		Quota:       quota,
		CCAddresses: def.CCAddresses,
		Motivation:  def.Motivation,
		Step:        def.Step,
		Factor:      def.Factor,
	}
}

func (c *AlertingConfig) validate() error {
	if !validPerc(c.DefaultThresholdPerc) {
		return xerrors.Errorf("default_threshold_perc %v out of range (0, 100]", c.DefaultThresholdPerc)
	}
	for serviceName, rules := range c.Rules {
		for quotaName, rule := range rules {
			if rule.ThresholdPerc != 0 && !validPerc(rule.ThresholdPerc) {
				return xerrors.Errorf("%s / %s: threshold_perc %v out of range (0, 100]", serviceName, quotaName, rule.ThresholdPerc)
			}
		}
	}
	return nil
}

// ThresholdPerc returns the alarm threshold percentage for a quota.
func (c *AlertingConfig) ThresholdPerc(quota model.Quota) float64 {
	if rule, ok := c.Rules[quota.ServiceName][quota.QuotaName]; ok && rule.ThresholdPerc > 0 {
		return rule.ThresholdPerc
	}
	return c.DefaultThresholdPerc
}

// Ignored reports whether alarms are explicitly disabled for a quota.
func (c *AlertingConfig) Ignored(quota model.Quota) bool {
	return c.Rules[quota.ServiceName][quota.QuotaName].Ignore
}

func validPerc(p float64) bool {
	return p > 0 && p <= 100
}
