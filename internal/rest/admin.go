package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/townbasket/liveops/internal/domain"
)

// Группа Overview.

func (c *Client) Overview(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/overview/", nil, &out)
	return out, err
}

func (c *Client) RevenueAnalytics(ctx context.Context, period string) (json.RawMessage, error) {
	q := url.Values{"period": {period}}
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/revenue-analytics/", q, &out)
	return out, err
}

func (c *Client) UserGrowth(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/user-growth/", nil, &out)
	return out, err
}

// Группа System.

func (c *Client) SystemHealth(ctx context.Context) (*domain.HealthSnapshot, error) {
	var out domain.HealthSnapshot
	if err := c.getJSON(ctx, "/admin/system-health/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActivityFeed(ctx context.Context, page int) (json.RawMessage, error) {
	q := url.Values{"page": {strconv.Itoa(page)}}
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/activity-feed/", q, &out)
	return out, err
}

// AuditLogs — страница журнала с произвольными фильтрами.
func (c *Client) AuditLogs(ctx context.Context, page int, filters url.Values) (json.RawMessage, error) {
	q := url.Values{}
	for k, vs := range filters {
		q[k] = vs
	}
	q.Set("page", strconv.Itoa(page))
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/audit-logs/", q, &out)
	return out, err
}

func (c *Client) AuditAdmins(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/audit-logs/admins/", nil, &out)
	return out, err
}

// ExportAuditLogs стримит CSV в писателя — без JSON-разбора.
func (c *Client) ExportAuditLogs(ctx context.Context, filters url.Values, w io.Writer) error {
	return c.download(ctx, "/admin/audit-logs/export/", filters, w)
}

// Permissions — роль и права текущего оператора.
func (c *Client) Permissions(ctx context.Context) (*domain.PermissionSet, error) {
	var out domain.PermissionSet
	if err := c.getJSON(ctx, "/admin/permissions/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	q := url.Values{"q": {query}}
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/search/", q, &out)
	return out, err
}

// Группа Analytics: отчеты top-products, top-shops, peak-hours,
// conversion-funnel, clv, delivery-efficiency.

func (c *Client) Analytics(ctx context.Context, report string, days int) (json.RawMessage, error) {
	q := url.Values{"days": {strconv.Itoa(days)}}
	var out json.RawMessage
	err := c.getJSON(ctx, fmt.Sprintf("/admin/analytics/%s/", report), q, &out)
	return out, err
}

// Группа Fraud.

func (c *Client) FraudAlerts(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/fraud/alerts/", nil, &out)
	return out, err
}

// FraudAlertAction — dismiss | investigate | confirm.
func (c *Client) FraudAlertAction(ctx context.Context, alertID int64, action string) error {
	return c.postJSON(ctx, fmt.Sprintf("/admin/fraud/alerts/%d/%s/", alertID, action), nil, nil)
}

func (c *Client) HighRiskUsers(ctx context.Context, minOrders int) (json.RawMessage, error) {
	q := url.Values{"min_orders": {strconv.Itoa(minOrders)}}
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/fraud/high-risk-users/", q, &out)
	return out, err
}

func (c *Client) FraudSummary(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/admin/fraud/summary/", nil, &out)
	return out, err
}

func (c *Client) FraudScan(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, "/admin/fraud/scan/", nil, &out)
	return out, err
}

// Чувствительные bulk-операции. Требуют свежий verify-токен в заголовке;
// сервер ограничивает пачку сотней идентификаторов.

// BulkResult — итог пакетной операции.
type BulkResult struct {
	Action  string `json:"action"`
	Results struct {
		Updated int `json:"updated"`
		Skipped int `json:"skipped"`
		Errors  []struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Error string `json:"error"`
		} `json:"errors"`
	} `json:"results"`
}

type bulkRequest struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
}

// BulkShops — пакетное approve/reject магазинов.
func (c *Client) BulkShops(ctx context.Context, action string, ids []int64, verifyToken string) (*BulkResult, error) {
	var out BulkResult
	err := c.postVerified(ctx, "/admin/bulk/shops/", bulkRequest{Action: action, IDs: ids}, &out, verifyToken)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkUsers — пакетное activate/deactivate пользователей.
func (c *Client) BulkUsers(ctx context.Context, action string, ids []int64, verifyToken string) (*BulkResult, error) {
	var out BulkResult
	err := c.postVerified(ctx, "/admin/bulk/users/", bulkRequest{Action: action, IDs: ids}, &out, verifyToken)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
