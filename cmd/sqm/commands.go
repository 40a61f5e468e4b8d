package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/coder/serpent"
	"github.com/gin-gonic/gin"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/cache"
	"github.com/yuxishi/aws-quota-manager/internal/handler"
	"github.com/yuxishi/aws-quota-manager/internal/manager"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

func collectCmd(g *globals) *serpent.Command {
	var (
		accountID string
		all       bool
	)
	return &serpent.Command{
		Use:   "collect",
		Short: "Collect quota usage and reconcile alarms for one or all accounts",
		Options: serpent.OptionSet{
			{
				Name:        "account-id",
				Description: "Account to collect quotas for.",
				Flag:        "account-id",
				Env:         "SQM_ACCOUNT_ID",
				Value:       serpent.StringOf(&accountID),
			},
			{
				Name:        "all",
				Description: "Collect quotas for every configured account.",
				Flag:        "all",
				Value:       serpent.BoolOf(&all),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			ctx := inv.Context()
			if (accountID == "") == !all {
				return xerrors.New("exactly one of --account-id or --all is required")
			}

			a, err := g.setup(ctx, g.logger(inv.Stderr), nil)
			if err != nil {
				return err
			}
			if all {
				results, err := a.dispatcher.DispatchAll(ctx, manager.ActionCollect)
				if werr := writeJSON(inv.Stdout, results); werr != nil {
					return werr
				}
				return err
			}
			res, err := a.dispatcher.Dispatch(ctx, manager.Event{Action: manager.ActionCollect, AccountID: accountID})
			if err != nil {
				return err
			}
			return writeJSON(inv.Stdout, res)
		},
	}
}

func increaseCmd(g *globals) *serpent.Command {
	var accountID, serviceCode, quotaCode string
	return &serpent.Command{
		Use:   "increase",
		Short: "Request a quota increase according to the account's increase rules",
		Options: serpent.OptionSet{
			{
				Name:        "account-id",
				Description: "Account owning the quota.",
				Flag:        "account-id",
				Env:         "SQM_ACCOUNT_ID",
				Value:       serpent.StringOf(&accountID),
			},
			{
				Name:        "service-code",
				Description: "Service code of the quota, for example lambda.",
				Flag:        "service-code",
				Value:       serpent.StringOf(&serviceCode),
			},
			{
				Name:        "quota-code",
				Description: "Quota code, for example L-B99A9384.",
				Flag:        "quota-code",
				Value:       serpent.StringOf(&quotaCode),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			ctx := inv.Context()
			a, err := g.setup(ctx, g.logger(inv.Stderr), nil)
			if err != nil {
				return err
			}
			res, err := a.dispatcher.Dispatch(ctx, manager.Event{
				Action:      manager.ActionIncrease,
				AccountID:   accountID,
				ServiceCode: serviceCode,
				QuotaCode:   quotaCode,
			})
			if err != nil {
				return err
			}
			return writeJSON(inv.Stdout, res)
		},
	}
}

func invokeCmd(g *globals) *serpent.Command {
	var eventPath string
	return &serpent.Command{
		Use:   "invoke",
		Short: "Handle a raw invocation event read from a file or stdin",
		Options: serpent.OptionSet{
			{
				Name:        "event",
				Description: "Path to the event JSON, - reads stdin.",
				Flag:        "event",
				Default:     "-",
				Value:       serpent.StringOf(&eventPath),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			ctx := inv.Context()

			var (
				data []byte
				err  error
			)
			if eventPath == "-" {
				data, err = io.ReadAll(inv.Stdin)
			} else {
				data, err = os.ReadFile(eventPath)
			}
			if err != nil {
				return xerrors.Errorf("read event: %w", err)
			}
			ev, err := manager.ParseEvent(data)
			if err != nil {
				return err
			}

			a, err := g.setup(ctx, g.logger(inv.Stderr), nil)
			if err != nil {
				return err
			}
			res, err := a.dispatcher.Dispatch(ctx, ev)
			if err != nil {
				return err
			}
			return writeJSON(inv.Stdout, res)
		},
	}
}

func serveCmd(g *globals) *serpent.Command {
	return &serpent.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Handler: func(inv *serpent.Invocation) error {
			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := g.logger(inv.Stderr)
			clock := quartz.NewReal()

			// The cache ttl is only known once the configuration is loaded.
			var snapshots *cache.Cache
			a, err := g.setup(ctx, logger, func(s model.Snapshot) { snapshots.Set(s) })
			if err != nil {
				return err
			}
			snapshots = cache.New(a.cfg.GetCacheTTL(), clock)
			go snapshots.Run(ctx)

			gin.SetMode(gin.ReleaseMode)
			r := gin.New()
			r.Use(gin.Recovery())
			handler.New(a.dispatcher, snapshots, clock, logger.Named("http")).Register(r)

			srv := &http.Server{
				Addr:              ":" + a.cfg.GetPort(),
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info(ctx, "starting server", slog.F("address", "http://localhost:"+a.cfg.GetPort()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return xerrors.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
