package relay

import (
	"context"
	"sync"

	"beacon/internal/domain"
)

// LocalClient talks to a Hub in-process on behalf of one device.
type LocalClient struct {
	hub    *Hub
	caller domain.Recipient

	mu       sync.Mutex
	failSend error
	failSync error
}

var _ domain.RelayClient = (*LocalClient)(nil)

// Client returns a LocalClient acting as (user, device).
func (h *Hub) Client(user, device string) *LocalClient {
	return &LocalClient{hub: h, caller: domain.NewRecipient(user, device)}
}

// FailNextSend makes the next SendToDevice call return err without
// delivering anything.
func (c *LocalClient) FailNextSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = err
}

// FailNextSync makes the next Sync call return err.
func (c *LocalClient) FailNextSync(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSync = err
}

func (c *LocalClient) takeFailure(slot *error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := *slot
	*slot = nil
	return err
}

func (c *LocalClient) QueryKeys(ctx context.Context, userIDs []string) (domain.DeviceKeyMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.hub.Query(userIDs), nil
}

func (c *LocalClient) ClaimKeys(ctx context.Context, req domain.ClaimRequest) (domain.ClaimedKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.hub.Claim(req), nil
}

func (c *LocalClient) UploadKeys(ctx context.Context, device *domain.DeviceKeys, oneTimeKeys map[string]domain.SignedKey) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.hub.Upload(c.caller, device, oneTimeKeys)
}

func (c *LocalClient) SendToDevice(ctx context.Context, eventType, txnID string, messages domain.ContentMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.takeFailure(&c.failSend); err != nil {
		return err
	}
	return c.hub.Send(c.caller, eventType, txnID, messages)
}

func (c *LocalClient) Sync(ctx context.Context, since string, limit int) (domain.SyncResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncResponse{}, err
	}
	if err := c.takeFailure(&c.failSync); err != nil {
		return domain.SyncResponse{}, err
	}
	return c.hub.Sync(c.caller, since, limit)
}
