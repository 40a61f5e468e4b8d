// Package increase files quota increase requests for quotas whose increase
// rule asks for it.
package increase

import (
	"context"
	"fmt"
	"strconv"

	"cdr.dev/slog/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	sqtypes "github.com/aws/aws-sdk-go-v2/service/servicequotas/types"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"golang.org/x/xerrors"

	awsclient "github.com/yuxishi/aws-quota-manager/internal/aws"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

// ErrCodeSubscriptionRequired is returned by the Support API for accounts
// without a support plan.
const ErrCodeSubscriptionRequired = "SubscriptionRequiredException"

// ErrNoCaseID is returned when a request was filed but no support case came
// with it, so the motivation could not be attached.
var ErrNoCaseID = xerrors.New("no support case id, motivation not sent")

type ServiceQuotasAPI interface {
	servicequotas.ListRequestedServiceQuotaChangeHistoryByQuotaAPIClient
	RequestServiceQuotaIncrease(ctx context.Context, params *servicequotas.RequestServiceQuotaIncreaseInput, optFns ...func(*servicequotas.Options)) (*servicequotas.RequestServiceQuotaIncreaseOutput, error)
}

type SupportAPI interface {
	DescribeSeverityLevels(ctx context.Context, params *support.DescribeSeverityLevelsInput, optFns ...func(*support.Options)) (*support.DescribeSeverityLevelsOutput, error)
	AddCommunicationToCase(ctx context.Context, params *support.AddCommunicationToCaseInput, optFns ...func(*support.Options)) (*support.AddCommunicationToCaseOutput, error)
}

type Workflow struct {
	quotas  ServiceQuotasAPI
	support SupportAPI
	logger  slog.Logger
}

func New(quotas ServiceQuotasAPI, support SupportAPI, logger slog.Logger) *Workflow {
	return &Workflow{
		quotas:  quotas,
		support: support,
		logger:  logger,
	}
}

// Request asks AWS to raise the quota of rule and attaches the rule's
// motivation to the support case that opens. It does nothing, and returns
// nil, when there is no rule, the quota can not be adjusted, the account has
// no support plan or an earlier request is still open. A request filed
// without a support case is reported as ErrNoCaseID.
func (w *Workflow) Request(ctx context.Context, rule *model.IncreaseRule) error {
	if rule == nil {
		w.logger.Info(ctx, "no increase rule configured for quota")
		return nil
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	q := rule.Quota
	logger := w.logger.With(
		slog.F("service_code", q.ServiceCode),
		slog.F("quota_code", q.QuotaCode),
		slog.F("quota_name", q.QuotaName),
	)
	if !q.Adjustable {
		logger.Info(ctx, "quota is not adjustable")
		return nil
	}

	if _, err := w.support.DescribeSeverityLevels(ctx, &support.DescribeSeverityLevelsInput{}); err != nil {
		if awsclient.IsErrorCode(err, ErrCodeSubscriptionRequired) {
			logger.Warn(ctx, "account has no support subscription, can not request an increase")
			return nil
		}
		return xerrors.Errorf("describe severity levels: %w", err)
	}

	open, err := w.openRequest(ctx, q)
	if err != nil {
		return err
	}
	if open != nil {
		logger.Info(ctx, "an increase request is already open",
			slog.F("status", string(open.Status)),
			slog.F("case_id", aws.ToString(open.CaseId)),
		)
		return nil
	}

	desired := rule.DesiredValue()
	out, err := w.quotas.RequestServiceQuotaIncrease(ctx, &servicequotas.RequestServiceQuotaIncreaseInput{
		ServiceCode:  aws.String(q.ServiceCode),
		QuotaCode:    aws.String(q.QuotaCode),
		DesiredValue: aws.Float64(desired),
	})
	if err != nil {
		return xerrors.Errorf("request increase of %s to %v: %w", q, desired, err)
	}

	var caseID string
	if out.RequestedQuota != nil {
		caseID = aws.ToString(out.RequestedQuota.CaseId)
	}
	logger.Info(ctx, "requested quota increase",
		slog.F("current_value", q.Value),
		slog.F("desired_value", desired),
		slog.F("case_id", caseID),
	)
	if caseID == "" {
		return xerrors.Errorf("request increase of %s: %w", q, ErrNoCaseID)
	}

	_, err = w.support.AddCommunicationToCase(ctx, &support.AddCommunicationToCaseInput{
		CaseId:            aws.String(caseID),
		CommunicationBody: aws.String(motivation(rule, desired)),
		CcEmailAddresses:  rule.CCAddresses,
	})
	if err != nil {
		return xerrors.Errorf("add communication to case %s: %w", caseID, err)
	}
	return nil
}

// openRequest returns the first increase request for q still being worked
// on, if any.
func (w *Workflow) openRequest(ctx context.Context, q model.Quota) (*sqtypes.RequestedServiceQuotaChange, error) {
	p := servicequotas.NewListRequestedServiceQuotaChangeHistoryByQuotaPaginator(w.quotas,
		&servicequotas.ListRequestedServiceQuotaChangeHistoryByQuotaInput{
			ServiceCode: aws.String(q.ServiceCode),
			QuotaCode:   aws.String(q.QuotaCode),
		})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Errorf("list change history of %s: %w", q, err)
		}
		for _, req := range page.RequestedQuotas {
			switch req.Status {
			case sqtypes.RequestStatusPending, sqtypes.RequestStatusCaseOpened:
				return &req, nil
			}
		}
	}
	return nil, nil
}

func motivation(rule *model.IncreaseRule, desired float64) string {
	if rule.Motivation != "" {
		return rule.Motivation
	}
	return fmt.Sprintf("Please increase %s from %s to %s.", rule.Quota,
		strconv.FormatFloat(rule.Quota.Value, 'f', -1, 64),
		strconv.FormatFloat(desired, 'f', -1, 64))
}
