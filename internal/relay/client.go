package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"beacon/internal/domain"
)

// HTTPClient is the network implementation of domain.RelayClient. It acts
// for one device, identified by the user and device headers.
type HTTPClient struct {
	Base   string
	HTTP   *http.Client
	User   string
	Device string
}

var _ domain.RelayClient = (*HTTPClient)(nil)

// NewHTTP returns a client for the relay at base acting as (user, device).
func NewHTTP(base, user, device string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Base:   strings.TrimRight(base, "/"),
		HTTP:   &http.Client{Timeout: timeout},
		User:   user,
		Device: device,
	}
}

func (c *HTTPClient) QueryKeys(ctx context.Context, userIDs []string) (domain.DeviceKeyMap, error) {
	req := queryRequest{DeviceKeys: make(map[string][]string, len(userIDs))}
	for _, u := range userIDs {
		req.DeviceKeys[u] = []string{}
	}
	var out queryResponse
	if err := c.do(ctx, http.MethodPost, "/keys/query", req, &out); err != nil {
		return nil, err
	}
	return out.DeviceKeys, nil
}

func (c *HTTPClient) ClaimKeys(ctx context.Context, req domain.ClaimRequest) (domain.ClaimedKeys, error) {
	var out claimResponse
	if err := c.do(ctx, http.MethodPost, "/keys/claim", claimRequest{OneTimeKeys: req}, &out); err != nil {
		return nil, err
	}
	return out.OneTimeKeys, nil
}

func (c *HTTPClient) UploadKeys(ctx context.Context, device *domain.DeviceKeys, oneTimeKeys map[string]domain.SignedKey) (map[string]int, error) {
	var out uploadResponse
	in := uploadRequest{DeviceKeys: device, OneTimeKeys: oneTimeKeys}
	if err := c.do(ctx, http.MethodPost, "/keys/upload", in, &out); err != nil {
		return nil, err
	}
	return out.OneTimeKeyCounts, nil
}

func (c *HTTPClient) SendToDevice(ctx context.Context, eventType, txnID string, messages domain.ContentMap) error {
	path := "/sendToDevice/" + url.PathEscape(eventType) + "/" + url.PathEscape(txnID)
	return c.do(ctx, http.MethodPut, path, sendToDeviceRequest{Messages: messages}, nil)
}

func (c *HTTPClient) Sync(ctx context.Context, since string, limit int) (domain.SyncResponse, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/sync"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out syncResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.SyncResponse{}, err
	}
	return out.toDomain(), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	u := c.Base + pathPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUser, c.User)
	req.Header.Set(HeaderDevice, c.Device)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Message != "" {
			return fmt.Errorf("relay %s %s: %s: %s", method, u, resp.Status, e.Message)
		}
		return fmt.Errorf("relay %s %s: %s", method, u, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
