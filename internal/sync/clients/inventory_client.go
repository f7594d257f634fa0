package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/utils"
)

// endpoints maps each kind to its collection path below the API root
var endpoints = map[models.EntityKind]string{
	models.KindDevice:        "dcim/devices/",
	models.KindInterface:     "dcim/interfaces/",
	models.KindIPAddress:     "ipam/ip-addresses/",
	models.KindVLAN:          "ipam/vlans/",
	models.KindCable:         "dcim/cables/",
	models.KindInventoryItem: "dcim/inventory-items/",
}

const maxErrorBody = 512

// InventoryClient is a ports.RemoteInventory over the inventory REST API.
// It is safe for concurrent use; every request waits on a shared rate
// limiter and runs under the configured request timeout.
type InventoryClient struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	config  InventoryConfig
	logger  logr.Logger
}

var _ ports.RemoteInventory = (*InventoryClient)(nil)

// NewInventoryClient creates a new inventory client
func NewInventoryClient(config InventoryConfig, logger logr.Logger) (*InventoryClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory client config: %w", err)
	}

	base := config.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", config.BaseURL, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig, err := config.TLS.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &InventoryClient{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		config:  config,
		logger:  logger.WithName("inventory-client"),
	}, nil
}

// List implements ports.RemoteInventory. Reads are retried on transport
// errors.
func (c *InventoryClient) List(ctx context.Context, kind models.EntityKind, filter ports.Filter) ([]models.Record, error) {
	path, err := endpoint(kind)
	if err != nil {
		return nil, err
	}

	var records []models.Record
	err = utils.ExecuteWithRetry(ctx, c.config.Retry, func() error {
		var listErr error
		records, listErr = c.list(ctx, kind, path+"?"+c.query(kind, filter).Encode())
		return listErr
	})
	if err != nil {
		return nil, err
	}

	if kind == models.KindIPAddress && len(records) > 0 {
		if err := c.markPrimary(ctx, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Get implements ports.RemoteInventory. The record is looked up by natural
// key among the records of its device or site.
func (c *InventoryClient) Get(ctx context.Context, kind models.EntityKind, key string) (models.Record, error) {
	records, err := c.List(ctx, kind, lookupFilter(kind, key))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Key() == key {
			return rec, nil
		}
	}
	return nil, &ports.NotFoundError{Kind: kind, Key: key}
}

// Create implements ports.RemoteInventory
func (c *InventoryClient) Create(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return ports.Result{}, err
	}
	body, err := encode(kind, item, true)
	if err != nil {
		return ports.Result{Key: item.Key}, err
	}

	data, err := c.do(ctx, kind, item.Key, http.MethodPost, path, body)
	if err != nil {
		return ports.Result{Key: item.Key}, err
	}
	return ports.Result{Key: item.Key, ID: gjson.GetBytes(data, "id").Int()}, nil
}

// Update implements ports.RemoteInventory
func (c *InventoryClient) Update(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return ports.Result{}, err
	}
	body, err := encode(kind, item, false)
	if err != nil {
		return ports.Result{Key: item.Key}, err
	}

	if len(body) > 0 {
		if _, err := c.do(ctx, kind, item.Key, http.MethodPatch, objectPath(path, item.ID), body); err != nil {
			return ports.Result{Key: item.Key}, err
		}
	}
	if err := c.writePrimary(ctx, kind, item); err != nil {
		return ports.Result{Key: item.Key}, err
	}
	return ports.Result{Key: item.Key, ID: item.ID}, nil
}

// Delete implements ports.RemoteInventory
func (c *InventoryClient) Delete(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return ports.Result{}, err
	}
	if _, err := c.do(ctx, kind, item.Key, http.MethodDelete, objectPath(path, item.ID), nil); err != nil {
		return ports.Result{Key: item.Key}, err
	}
	return ports.Result{Key: item.Key, ID: item.ID}, nil
}

// BulkCreate implements ports.RemoteInventory. The remote applies a bulk
// call atomically, so any rejection fails the whole call.
func (c *InventoryClient) BulkCreate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return nil, err
	}
	bodies, err := encodeAll(kind, items, true)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, kind, "", http.MethodPost, path, bodies)
	if err != nil {
		return nil, err
	}
	created := gjson.ParseBytes(data).Array()
	if len(created) != len(items) {
		return nil, fmt.Errorf("bulk create %s: %d items sent, %d returned", kind, len(items), len(created))
	}

	results := make([]ports.Result, len(items))
	for i, item := range items {
		results[i] = ports.Result{Key: item.Key, ID: created[i].Get("id").Int()}
	}
	return results, nil
}

// BulkUpdate implements ports.RemoteInventory
func (c *InventoryClient) BulkUpdate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return nil, err
	}
	bodies, err := encodeAll(kind, items, false)
	if err != nil {
		return nil, err
	}

	var patch []map[string]any
	for i, body := range bodies {
		if len(body) == 0 {
			continue
		}
		body["id"] = items[i].ID
		patch = append(patch, body)
	}
	if len(patch) > 0 {
		if _, err := c.do(ctx, kind, "", http.MethodPatch, path, patch); err != nil {
			return nil, err
		}
	}

	results := make([]ports.Result, len(items))
	var failed []ports.Result
	for i, item := range items {
		results[i] = ports.Result{Key: item.Key, ID: item.ID}
		if err := c.writePrimary(ctx, kind, item); err != nil {
			results[i].Err = err
			failed = append(failed, results[i])
		}
	}
	if len(failed) > 0 {
		return results, &ports.PartialBatchError{Kind: kind, Total: len(items), Failed: failed, Committed: true}
	}
	return results, nil
}

// BulkDelete implements ports.RemoteInventory
func (c *InventoryClient) BulkDelete(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	path, err := endpoint(kind)
	if err != nil {
		return nil, err
	}
	ids := make([]map[string]any, 0, len(items))
	for _, item := range items {
		ids = append(ids, map[string]any{"id": item.ID})
	}
	if _, err := c.do(ctx, kind, "", http.MethodDelete, path, ids); err != nil {
		return nil, err
	}

	results := make([]ports.Result, len(items))
	for i, item := range items {
		results[i] = ports.Result{Key: item.Key, ID: item.ID}
	}
	return results, nil
}

// list follows the pagination links from ref
func (c *InventoryClient) list(ctx context.Context, kind models.EntityKind, ref string) ([]models.Record, error) {
	var records []models.Record
	for ref != "" {
		data, err := c.do(ctx, kind, "", http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		page := gjson.ParseBytes(data)
		for _, item := range page.Get("results").Array() {
			rec, err := decode(kind, item)
			if err != nil {
				return nil, fmt.Errorf("decode %s %d: %w", kind, item.Get("id").Int(), err)
			}
			if rec != nil {
				records = append(records, rec)
			}
		}
		ref = page.Get("next").String()
	}
	return records, nil
}

// markPrimary flags the addresses their device lists as primary
func (c *InventoryClient) markPrimary(ctx context.Context, records []models.Record) error {
	names := sets.New[string]()
	for _, rec := range records {
		names.Insert(rec.(models.IPAddress).Device)
	}

	primary := sets.New[int64]()
	err := utils.ExecuteWithRetry(ctx, c.config.Retry, func() error {
		data, err := c.do(ctx, models.KindDevice, "", http.MethodGet,
			endpoints[models.KindDevice]+"?"+c.query(models.KindDevice, ports.DevicesFilter(sets.List(names)...)).Encode(), nil)
		if err != nil {
			return err
		}
		for _, dev := range gjson.GetBytes(data, "results").Array() {
			for _, field := range []string{"primary_ip4.id", "primary_ip6.id"} {
				if id := dev.Get(field).Int(); id != 0 {
					primary.Insert(id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read primary addresses: %w", err)
	}

	for i, rec := range records {
		addr := rec.(models.IPAddress)
		addr.Primary = primary.Has(addr.ID)
		records[i] = addr
	}
	return nil
}

// writePrimary moves the device's primary address when the payload lists
// the primary flag. Clearing only touches the device when this address is
// its current primary.
func (c *InventoryClient) writePrimary(ctx context.Context, kind models.EntityKind, item ports.Payload) error {
	if kind != models.KindIPAddress || !listed(item.Fields, fieldPrimary) {
		return nil
	}
	addr, ok := item.Record.(models.IPAddress)
	if !ok {
		return rejected("ip address payload carries %T", item.Record)
	}
	if item.Refs.DeviceID == 0 {
		return rejected("primary flag of %s needs a device id", item.Key)
	}

	field := primaryField(addr.Address)
	devPath := objectPath(endpoints[models.KindDevice], item.Refs.DeviceID)
	if addr.Primary {
		_, err := c.do(ctx, models.KindDevice, addr.Device, http.MethodPatch, devPath, map[string]any{field: item.ID})
		return err
	}

	data, err := c.do(ctx, models.KindDevice, addr.Device, http.MethodGet, devPath, nil)
	if err != nil {
		return err
	}
	if gjson.GetBytes(data, field+".id").Int() != item.ID {
		return nil
	}
	_, err = c.do(ctx, models.KindDevice, addr.Device, http.MethodPatch, devPath, map[string]any{field: nil})
	return err
}

// do sends one request and maps failures to inventory errors. kind and key
// name the target in a NotFoundError.
func (c *InventoryClient) do(ctx context.Context, kind models.EntityKind, key, method, ref string, body any) ([]byte, error) {
	op := method + " " + ref
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ports.TransportError{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	u, err := c.baseURL.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", ref, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", kind, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Token "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ports.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.V(1).Info("Inventory request", "method", method, "path", u.Path, "status", resp.StatusCode)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(op, kind, key, resp.StatusCode, data)
	}
	return data, nil
}

// statusError maps an error status. Gateway errors and throttling are
// transient, everything else is a rejection.
func statusError(op string, kind models.EntityKind, key string, code int, body []byte) error {
	msg := gjson.GetBytes(body, "detail").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}

	switch code {
	case http.StatusNotFound:
		return &ports.NotFoundError{Kind: kind, Key: key}
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &ports.TransportError{Op: op, StatusCode: code, Err: errors.New(msg)}
	default:
		return &ports.RejectedError{StatusCode: code, Message: msg}
	}
}

// query builds the list filter parameters the endpoint of kind supports
func (c *InventoryClient) query(kind models.EntityKind, filter ports.Filter) url.Values {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(c.config.PageSize))

	devices := filter.Devices
	if filter.Device != "" {
		devices = append([]string{filter.Device}, devices...)
	}

	switch kind {
	case models.KindDevice:
		for _, d := range devices {
			q.Add("name__ie", d)
		}
		if filter.Tenant != "" {
			q.Set("tenant", filter.Tenant)
		}
		if filter.Tag != "" {
			q.Set("tag", filter.Tag)
		}
	case models.KindIPAddress:
		for _, d := range devices {
			q.Add("device", d)
		}
		for _, addr := range filter.Addresses {
			q.Add("address", addr)
		}
		return q
	case models.KindInterface:
		for _, d := range devices {
			q.Add("device", d)
		}
		for _, mac := range filter.MACs {
			q.Add("mac_address", mac)
		}
	default:
		for _, d := range devices {
			q.Add("device", d)
		}
	}
	if filter.Site != "" {
		q.Set("site", filter.Site)
	}
	return q
}

// lookupFilter narrows a natural key lookup to the owning device or site
func lookupFilter(kind models.EntityKind, key string) ports.Filter {
	switch kind {
	case models.KindDevice:
		return ports.DeviceFilter(key)
	case models.KindInterface:
		device, _, _ := strings.Cut(key, "/")
		return ports.DeviceFilter(device)
	case models.KindIPAddress, models.KindInventoryItem:
		device, _, _ := strings.Cut(key, "|")
		return ports.DeviceFilter(device)
	case models.KindVLAN:
		site, _, _ := strings.Cut(key, "|")
		return ports.SiteFilter(site)
	case models.KindCable:
		end, _, _ := strings.Cut(key, "|")
		device, _, _ := strings.Cut(end, ":")
		return ports.DeviceFilter(device)
	}
	return ports.Filter{}
}

func endpoint(kind models.EntityKind) (string, error) {
	path, ok := endpoints[kind]
	if !ok {
		return "", fmt.Errorf("no endpoint for kind %q", kind)
	}
	return path, nil
}

func objectPath(collection string, id int64) string {
	return fmt.Sprintf("%s%d/", collection, id)
}
