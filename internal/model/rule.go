package model

import "golang.org/x/xerrors"

var ErrInvalidRule = xerrors.New("increase rule must set exactly one of step or factor")

// IncreaseRule tells how to request a higher value for a quota.
type IncreaseRule struct {
	Quota       Quota
	CCAddresses []string
	Motivation  string
	// Step and Factor are mutually exclusive.
	Step   *float64
	Factor *float64
}

func (r IncreaseRule) Validate() error {
	if (r.Step == nil) == (r.Factor == nil) {
		return xerrors.Errorf("%s: %w", r.Quota, ErrInvalidRule)
	}
	return nil
}

// DesiredValue returns the quota value to ask for. It assumes the rule is
// valid.
func (r IncreaseRule) DesiredValue() float64 {
	if r.Step != nil {
		return r.Quota.Value + *r.Step
	}
	if r.Factor != nil {
		return r.Quota.Value * *r.Factor
	}
	return r.Quota.Value
}
