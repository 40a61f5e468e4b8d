// Package handler exposes the manager over HTTP: invocation events can be
// posted and the collected snapshots viewed or exported.
package handler

import (
	"context"
	"net/http"
	"strings"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"

	"github.com/yuxishi/aws-quota-manager/internal/cache"
	"github.com/yuxishi/aws-quota-manager/internal/manager"
	"github.com/yuxishi/aws-quota-manager/internal/model"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev manager.Event) (manager.Result, error)
	DispatchAll(ctx context.Context, action string) ([]manager.Result, error)
}

type Handler struct {
	dispatcher Dispatcher
	cache      *cache.Cache
	clock      quartz.Clock
	logger     slog.Logger
}

func New(dispatcher Dispatcher, cache *cache.Cache, clock quartz.Clock, logger slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		cache:      cache,
		clock:      clock,
		logger:     logger,
	}
}

// Register adds all routes to r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.POST("/invoke", h.Invoke)
		api.GET("/accounts", h.GetAccounts)
		api.GET("/accounts/:account/quotas", h.GetQuotas)
		api.POST("/refresh", h.Refresh)
		api.GET("/export/json", h.ExportJSON)
		api.GET("/export/html", h.ExportHTML)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Invoke handles a raw invocation event.
func (h *Handler) Invoke(c *gin.Context) {
	var ev manager.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.dispatcher.Dispatch(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error(c.Request.Context(), "invocation failed",
			slog.F("invocation_id", res.InvocationID), slog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"invocation_id": res.InvocationID,
			"error":         err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.cache.Accounts()})
}

func (h *Handler) GetQuotas(c *gin.Context) {
	snapshot, ok := h.cache.Get(c.Param("account"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errNoData})
		return
	}

	if search := c.Query("search"); search != "" {
		snapshot.Quotas = filterQuotas(snapshot.Quotas, search)
		snapshot.Total = len(snapshot.Quotas)
	}
	c.JSON(http.StatusOK, snapshot)
}

// Refresh collects quotas again, for one account when the account query
// parameter is set and for every configured account otherwise. Snapshots
// that the refresh could not replace are dropped: the account's own on a
// failed or aborted collection, all of them before a full refresh.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	if account := c.Query("account"); account != "" {
		res, err := h.dispatcher.Dispatch(ctx, manager.Event{Action: manager.ActionCollect, AccountID: account})
		if err != nil || res.Status != manager.StatusCompleted {
			h.cache.Delete(account)
		}
		if err != nil {
			h.logger.Error(ctx, "refresh failed", slog.F("account_id", account), slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "results": []manager.Result{res}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": []manager.Result{res}})
		return
	}

	h.cache.Clear()
	results, err := h.dispatcher.DispatchAll(ctx, manager.ActionCollect)
	if err != nil {
		h.logger.Error(ctx, "refresh failed", slog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func filterQuotas(quotas []model.Quota, search string) []model.Quota {
	search = strings.ToLower(search)
	filtered := make([]model.Quota, 0)
	for _, q := range quotas {
		if strings.Contains(strings.ToLower(q.QuotaName), search) ||
			strings.Contains(strings.ToLower(q.ServiceName), search) ||
			strings.Contains(strings.ToLower(q.ServiceCode), search) {
			filtered = append(filtered, q)
		}
	}
	return filtered
}
