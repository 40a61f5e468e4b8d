package manager

import (
	"context"
	"errors"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/alarm"
	"github.com/yuxishi/aws-quota-manager/internal/catalog"
	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Result describes how an invocation ended. Aborted invocations carry the
// reason they stopped early.
type Result struct {
	InvocationID string        `json:"invocation_id"`
	Action       string        `json:"action"`
	AccountID    string        `json:"account_id,omitempty"`
	Status       string        `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Quotas       int           `json:"quotas,omitempty"`
	Alarms       *alarm.Result `json:"alarms,omitempty"`
}

type DispatcherOptions struct {
	// Loader provides the account configuration document.
	Loader config.Loader
	// S3 reads configuration documents named by an event. Events naming a
	// document are rejected without it.
	S3      config.S3API
	Connect Connector
	Logger  slog.Logger
	// Engine is the template for the engine of every invocation. Its
	// account, clients and logger are filled in per invocation.
	Engine         EngineOptions
	MaxConcurrency int
	// OnCollected receives the outcome of every successful collection.
	OnCollected func(model.Snapshot)
}

// Dispatcher turns invocation events into engine runs.
type Dispatcher struct {
	opts DispatcherOptions
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	return &Dispatcher{opts: opts}
}

// Dispatch handles one event. Events that can not be acted on end the
// invocation with a single log line and an aborted result but no error.
// Errors are reserved for AWS faults.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	res := Result{InvocationID: uuid.NewString(), Action: ev.Action}
	logger := d.opts.Logger.With(slog.F("invocation_id", res.InvocationID))

	res.AccountID = ev.Account()
	if res.AccountID == "" {
		return d.abort(ctx, logger, res, "no account id could be found in event"), nil
	}
	logger = logger.With(slog.F("account_id", res.AccountID))

	if ev.Action == "" {
		return d.abort(ctx, logger, res, "no action specified in event"), nil
	}
	if ev.Action != ActionCollect && ev.Action != ActionIncrease {
		return d.abort(ctx, logger, res, "action not recognized"), nil
	}

	loader, err := d.loader(ev)
	if err != nil {
		return d.abort(ctx, logger, res, err.Error()), nil
	}
	doc, err := loader.Load(ctx)
	if err != nil {
		return res, err
	}
	return d.dispatch(ctx, logger, ev, doc, res)
}

// DispatchAll runs action for every configured account, at most
// MaxConcurrency at a time. A failing account does not stop the others; the
// first error is returned once all have finished.
func (d *Dispatcher) DispatchAll(ctx context.Context, action string) ([]Result, error) {
	if d.opts.Loader == nil {
		return nil, xerrors.New("no configuration document configured")
	}
	doc, err := d.opts.Loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	ids := doc.AccountIDs()
	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(d.opts.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res := Result{InvocationID: uuid.NewString(), Action: action, AccountID: id}
			logger := d.opts.Logger.With(slog.F("invocation_id", res.InvocationID), slog.F("account_id", id))
			res, err := d.dispatch(ctx, logger, Event{Action: action, AccountID: id}, doc, res)
			results[i] = res
			if err != nil {
				return xerrors.Errorf("account %s: %w", id, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, logger slog.Logger, ev Event, doc config.Document, res Result) (Result, error) {
	account, err := doc.Account(res.AccountID)
	if errors.Is(err, config.ErrAccountNotFound) {
		return d.abort(ctx, logger, res, "no configuration found for account"), nil
	}
	if config.IsInvalid(err) {
		return d.abort(ctx, logger, res, "invalid configuration for account", slog.Error(err)), nil
	}
	if err != nil {
		return res, err
	}

	clients, err := d.opts.Connect(ctx, account)
	if err != nil {
		logger.Error(ctx, "could not connect to account", slog.Error(err))
		res.Status = StatusAborted
		res.Reason = "could not assume role"
		return res, nil
	}

	opts := d.opts.Engine
	opts.AccountID = account.AccountID
	opts.Clients = clients
	opts.Logger = logger
	engine := NewEngine(opts)

	switch ev.Action {
	case ActionCollect:
		if err := engine.Collect(ctx, account.Services()); err != nil {
			var selErr *catalog.SelectionError
			if errors.As(err, &selErr) {
				var fields []slog.Field
				if selErr.Err != nil {
					fields = append(fields, slog.Error(selErr.Err))
				}
				return d.abort(ctx, logger, res, selErr.Reason, fields...), nil
			}
			return res, err
		}
		alarms, err := engine.ReconcileAlarms(ctx, account.Alerting)
		if err != nil {
			return res, err
		}
		snapshot := engine.Snapshot()
		if d.opts.OnCollected != nil {
			d.opts.OnCollected(snapshot)
		}
		res.Quotas = snapshot.Total
		res.Alarms = &alarms

	case ActionIncrease:
		serviceCode, quotaCode := ev.Quota()
		if serviceCode == "" || quotaCode == "" {
			return d.abort(ctx, logger, res, "no quota identified in event"), nil
		}
		quota, err := engine.ResolveQuota(ctx, serviceCode, quotaCode)
		if err != nil {
			return res, err
		}
		if err := engine.RequestIncrease(ctx, account.IncreaseRuleFor(quota)); err != nil {
			return res, err
		}

	default:
		return d.abort(ctx, logger, res, "action not recognized"), nil
	}

	res.Status = StatusCompleted
	return res, nil
}

func (d *Dispatcher) loader(ev Event) (config.Loader, error) {
	if ev.ConfigBucket == "" && ev.ConfigKey == "" {
		if d.opts.Loader == nil {
			return nil, xerrors.New("no configuration document configured")
		}
		return d.opts.Loader, nil
	}
	if ev.ConfigBucket == "" || ev.ConfigKey == "" || d.opts.S3 == nil {
		return nil, xerrors.New("event names an unusable configuration document")
	}
	return config.S3Loader{Client: d.opts.S3, Bucket: ev.ConfigBucket, Key: ev.ConfigKey}, nil
}

func (d *Dispatcher) abort(ctx context.Context, logger slog.Logger, res Result, reason string, fields ...slog.Field) Result {
	logger.Error(ctx, reason+", exiting", append([]slog.Field{slog.F("action", res.Action)}, fields...)...)
	res.Status = StatusAborted
	res.Reason = reason
	return res
}
