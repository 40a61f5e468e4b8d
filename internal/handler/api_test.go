package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/yuxishi/aws-quota-manager/internal/cache"
	"github.com/yuxishi/aws-quota-manager/internal/handler"
	"github.com/yuxishi/aws-quota-manager/internal/manager"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/testutil"
)

type fakeDispatcher struct {
	events  []manager.Event
	all     []string
	err     error
	aborted bool
	collect func(accountID string)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev manager.Event) (manager.Result, error) {
	f.events = append(f.events, ev)
	res := manager.Result{InvocationID: "inv-1", Action: ev.Action, AccountID: ev.AccountID}
	if f.err != nil {
		return res, f.err
	}
	if f.aborted {
		res.Status = manager.StatusAborted
		return res, nil
	}
	if f.collect != nil {
		f.collect(ev.AccountID)
	}
	res.Status = manager.StatusCompleted
	return res, nil
}

func (f *fakeDispatcher) DispatchAll(_ context.Context, action string) ([]manager.Result, error) {
	f.all = append(f.all, action)
	return []manager.Result{{Action: action, Status: manager.StatusCompleted}}, f.err
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setup(t *testing.T, d *fakeDispatcher) (*gin.Engine, *cache.Cache) {
	t.Helper()

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(time.Hour, clock)

	r := gin.New()
	handler.New(d, c, clock, testutil.Logger(t)).Register(r)
	return r, c
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func lambdaSnapshot() model.Snapshot {
	return model.Snapshot{
		AccountID: "111122223333",
		Quotas: []model.Quota{
			{ServiceCode: "lambda", ServiceName: "AWS Lambda", QuotaCode: "L-B99A9384", QuotaName: "Concurrent executions", Value: 1000, MetricValues: []float64{250}, Adjustable: true},
			{ServiceCode: "vpc", ServiceName: "Amazon VPC", QuotaCode: "L-F678F1CE", QuotaName: "VPCs per Region <main>", Value: 5},
		},
		Total: 2,
	}
}

func TestInvoke(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, _ := setup(t, d)

	rec := do(r, http.MethodPost, "/api/invoke", `{"action":"CollectServiceQuotas","account_id":"111122223333"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res manager.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, manager.StatusCompleted, res.Status)
	require.Len(t, d.events, 1)
	assert.Equal(t, manager.ActionCollect, d.events[0].Action)
	assert.Equal(t, "111122223333", d.events[0].AccountID)
}

func TestInvoke_Errors(t *testing.T) {
	t.Parallel()

	r, _ := setup(t, &fakeDispatcher{})
	rec := do(r, http.MethodPost, "/api/invoke", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r, _ = setup(t, &fakeDispatcher{err: xerrors.New("throttled")})
	rec = do(r, http.MethodPost, "/api/invoke", `{"action":"CollectServiceQuotas","account_id":"111122223333"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "inv-1")
}

func TestGetQuotas(t *testing.T) {
	t.Parallel()

	r, c := setup(t, &fakeDispatcher{})
	rec := do(r, http.MethodGet, "/api/accounts/111122223333/quotas", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c.Set(lambdaSnapshot())

	rec = do(r, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accounts":["111122223333"]}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/accounts/111122223333/quotas?search=LAMBDA", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.FromCache)
	assert.Equal(t, 1, snap.Total)
	require.Len(t, snap.Quotas, 1)
	assert.Equal(t, "L-B99A9384", snap.Quotas[0].QuotaCode)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, c := setup(t, d)
	d.collect = func(string) { c.Set(lambdaSnapshot()) }

	rec := do(r, http.MethodPost, "/api/refresh?account=111122223333", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := c.Get("111122223333")
	assert.True(t, ok)

	// A full refresh starts from an empty cache.
	rec = do(r, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{manager.ActionCollect}, d.all)
	assert.Zero(t, c.Len())
}

func TestRefresh_AbortDropsSnapshot(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{aborted: true}
	r, c := setup(t, d)
	c.Set(lambdaSnapshot())

	rec := do(r, http.MethodPost, "/api/refresh?account=111122223333", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), manager.StatusAborted)
	_, ok := c.Get("111122223333")
	assert.False(t, ok)
}

func TestExport(t *testing.T) {
	t.Parallel()

	r, c := setup(t, &fakeDispatcher{})
	rec := do(r, http.MethodGet, "/api/export/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c.Set(lambdaSnapshot())

	rec = do(r, http.MethodGet, "/api/export/json?account=111122223333", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=aws-quotas-2024-07-01.json", rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), `"L-F678F1CE"`)

	rec = do(r, http.MethodGet, "/api/export/html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Account 111122223333")
	assert.Contains(t, body, "<td>25.0%</td>")
	assert.Contains(t, body, "VPCs per Region &lt;main&gt;")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	r, _ := setup(t, &fakeDispatcher{})
	rec := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
