package httpremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
)

const codeAlreadyExists = "already_exists"

var ErrMissingBaseURL = errors.New("remote base url is required")

type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote api error: %s", e.Status)
	}
	return fmt.Sprintf("remote api error: %s: %s", e.Status, e.Body)
}

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

type errorBody struct {
	Error string            `json:"error"`
	Code  string            `json:"code"`
	Group *domain.SaleGroup `json:"group,omitempty"`
}

func New(opts Options, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		})
	if opts.APIKey != "" {
		httpClient.SetAuthScheme("Bearer")
		httpClient.SetAuthToken(opts.APIKey)
	}
	return &Client{http: httpClient, logger: logger.Named("remote")}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) CreateSaleGroup(ctx context.Context, group domain.SaleGroup) (domain.SaleGroup, error) {
	var created domain.SaleGroup
	err := c.do(ctx, "create_sale_group", http.MethodPost, "/sale-groups", group, &created)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		var body errorBody
		if json.Unmarshal([]byte(apiErr.Body), &body) == nil && body.Code == codeAlreadyExists {
			if body.Group != nil {
				created = *body.Group
			}
			return created, remote.ErrAlreadyExists
		}
	}
	if err != nil {
		return domain.SaleGroup{}, err
	}
	return created, nil
}

func (c *Client) CreateSaleLinesBulk(ctx context.Context, lines []domain.SaleLine) ([]domain.SaleLine, error) {
	var created []domain.SaleLine
	payload := map[string]any{"lines": lines}
	if err := c.do(ctx, "create_sale_lines", http.MethodPost, "/sale-lines/bulk", payload, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Client) UpdateInventoryQty(ctx context.Context, inventoryID string, newQty int64) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	payload := map[string]int64{"available_qty": newQty}
	if err := c.do(ctx, "update_inventory", http.MethodPatch, "/inventory/"+url.PathEscape(inventoryID), payload, &rec); err != nil {
		return domain.InventoryRecord{}, err
	}
	return rec, nil
}

func (c *Client) IsDeviceSold(ctx context.Context, deviceID string, storeID string) (bool, error) {
	var resp struct {
		Sold bool `json:"sold"`
	}
	path := fmt.Sprintf("/stores/%s/devices/%s/sold", url.PathEscape(storeID), url.PathEscape(domain.NormalizeDeviceID(deviceID)))
	if err := c.do(ctx, "is_device_sold", http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Sold, nil
}

func (c *Client) FindSaleGroupByClientRef(ctx context.Context, storeID string, clientRef string) (domain.SyncedSale, error) {
	var sale domain.SyncedSale
	path := fmt.Sprintf("/stores/%s/sale-groups/by-ref/%s", url.PathEscape(storeID), url.PathEscape(clientRef))
	if err := c.do(ctx, "find_sale_group", http.MethodGet, path, nil, &sale); err != nil {
		return domain.SyncedSale{}, err
	}
	return sale, nil
}

func (c *Client) FetchProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	var out []domain.Product
	err := c.do(ctx, "fetch_products", http.MethodGet, storePath(storeID, "products"), nil, &out)
	return out, err
}

func (c *Client) FetchInventory(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	var out []domain.InventoryRecord
	err := c.do(ctx, "fetch_inventory", http.MethodGet, storePath(storeID, "inventory"), nil, &out)
	return out, err
}

func (c *Client) FetchCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	var out []domain.Customer
	err := c.do(ctx, "fetch_customers", http.MethodGet, storePath(storeID, "customers"), nil, &out)
	return out, err
}

func (c *Client) FetchSyncedSales(ctx context.Context, storeID string) ([]domain.SyncedSale, error) {
	var out []domain.SyncedSale
	err := c.do(ctx, "fetch_synced_sales", http.MethodGet, storePath(storeID, "sales"), nil, &out)
	return out, err
}

func (c *Client) DeleteSale(ctx context.Context, saleID string) error {
	return c.do(ctx, "delete_sale", http.MethodDelete, "/sales/"+url.PathEscape(saleID), nil, nil)
}

func (c *Client) UpdateSale(ctx context.Context, saleID string, patch domain.SalePatch) (domain.SyncedSale, error) {
	var sale domain.SyncedSale
	if err := c.do(ctx, "update_sale", http.MethodPatch, "/sales/"+url.PathEscape(saleID), patch, &sale); err != nil {
		return domain.SyncedSale{}, err
	}
	return sale, nil
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, result any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Debug("remote request failed", zap.String("op", op), zap.Error(err))
		return domain.NetworkError(op, err)
	}
	if resp.IsError() {
		return errorFromResponse(op, resp)
	}
	return nil
}

func errorFromResponse(op string, resp *resty.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       strings.TrimSpace(resp.String()),
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrNotFound, op)
	case http.StatusConflict:
		return &domain.Error{Kind: domain.KindConflict, Op: op, Err: apiErr}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.NetworkError(op, apiErr)
	default:
		return apiErr
	}
}

func storePath(storeID string, resource string) string {
	return fmt.Sprintf("/stores/%s/%s", url.PathEscape(storeID), resource)
}

var _ remote.Collaborator = (*Client)(nil)
