package handler

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

const errNoData = "No data available. Collect quotas first."

// snapshots returns the snapshot of the requested account, or all of them.
func (h *Handler) snapshots(c *gin.Context) ([]model.Snapshot, bool) {
	if account := c.Query("account"); account != "" {
		s, ok := h.cache.Get(account)
		if !ok {
			return nil, false
		}
		return []model.Snapshot{s}, true
	}
	all := h.cache.All()
	return all, len(all) > 0
}

func (h *Handler) ExportJSON(c *gin.Context) {
	snapshots, ok := h.snapshots(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoData})
		return
	}

	filename := fmt.Sprintf("aws-quotas-%s.json", h.clock.Now().Format(time.DateOnly))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.JSON(http.StatusOK, gin.H{
		"snapshots":   snapshots,
		"exported_at": h.clock.Now(),
	})
}

func (h *Handler) ExportHTML(c *gin.Context) {
	snapshots, ok := h.snapshots(c)
	if !ok {
		c.String(http.StatusBadRequest, errNoData)
		return
	}

	filename := fmt.Sprintf("aws-quotas-%s.html", h.clock.Now().Format(time.DateOnly))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err := reportTemplate.Execute(c.Writer, report{
		Generated: h.clock.Now().Format(time.DateTime),
		Snapshots: snapshots,
	})
	if err != nil {
		_ = c.Error(err)
	}
}

type report struct {
	Generated string
	Snapshots []model.Snapshot
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"latest": func(q model.Quota) string {
		v, ok := q.LatestUsage()
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%.1f", v)
	},
	"percent": func(q model.Quota) string {
		if !q.HasUsage() || q.Value <= 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", q.UsagePercentage())
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AWS Quota Report</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 20px; }
        h1 { color: #232f3e; }
        table { border-collapse: collapse; width: 100%; margin-top: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #232f3e; color: white; }
        tr:nth-child(even) { background-color: #f2f2f2; }
        .timestamp { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <h1>AWS Service Quotas Report</h1>
    <p class="timestamp">Generated: {{.Generated}}</p>
{{- range .Snapshots}}
    <h2>Account {{.AccountID}}</h2>
    <p>Total quotas: {{.Total}}</p>
    <table>
        <thead>
            <tr>
                <th>Service</th>
                <th>Quota Name</th>
                <th>Value</th>
                <th>Usage</th>
                <th>Usage %</th>
                <th>Adjustable</th>
            </tr>
        </thead>
        <tbody>
{{- range .Quotas}}
            <tr>
                <td>{{.ServiceName}}</td>
                <td>{{.QuotaName}}</td>
                <td>{{printf "%.0f" .Value}}</td>
                <td>{{latest .}}</td>
                <td>{{percent .}}</td>
                <td>{{if .Adjustable}}Yes{{else}}No{{end}}</td>
            </tr>
{{- end}}
        </tbody>
    </table>
{{- end}}
</body>
</html>
`))
