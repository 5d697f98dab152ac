package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Группа Shops.

func (c *Client) ShopsAll(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/shops/all/", nil, &out)
	return out, err
}

func (c *Client) ShopsPending(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/shops/pending/", nil, &out)
	return out, err
}

func (c *Client) ApproveShop(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/shops/%d/approve/", id), nil, nil)
}

func (c *Client) RejectShop(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/shops/%d/reject/", id), nil, nil)
}

func (c *Client) ToggleShopActive(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/shops/%d/toggle-active/", id), nil, nil)
}

func (c *Client) ShopStats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/shops/admin/stats/", nil, &out)
	return out, err
}

func (c *Client) Categories(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/shops/categories/", nil, &out)
	return out, err
}

// Группа Orders.

func (c *Client) OrdersAll(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/orders/all/", nil, &out)
	return out, err
}

func (c *Client) OrderInvoice(ctx context.Context, id int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, fmt.Sprintf("/orders/%d/invoice/", id), nil, &out)
	return out, err
}

func (c *Client) ResendInvoice(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/orders/%d/invoice/resend/", id), nil, nil)
}

// Группа Users.

func (c *Client) UsersList(ctx context.Context, role string, pageSize int) (json.RawMessage, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out json.RawMessage
	err := c.getJSON(ctx, "/users/list/", q, &out)
	return out, err
}

func (c *Client) ToggleUserActive(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/users/%d/toggle-active/", id), nil, nil)
}

// Группа Complaints.

func (c *Client) ComplaintsList(ctx context.Context, status string) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out json.RawMessage
	err := c.getJSON(ctx, "/complaints/list/", q, &out)
	return out, err
}

func (c *Client) ResolveComplaint(ctx context.Context, id int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/complaints/%d/resolve/", id), nil, nil)
}

// Группа Settings.

func (c *Client) Settings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, "/core/settings/", nil, &out)
	return out, err
}

func (c *Client) UpdateSettings(ctx context.Context, settings any) error {
	return c.postJSON(ctx, "/core/settings/update/", settings, nil)
}
