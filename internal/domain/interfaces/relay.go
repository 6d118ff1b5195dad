package interfaces

import (
	"context"

	domaintypes "beacon/internal/domain/types"
)

// KeyServer is the directory service that stores published device keys and
// hands out one-time keys. Implementations act on behalf of one device.
type KeyServer interface {
	QueryKeys(ctx context.Context, userIDs []string) (domaintypes.DeviceKeyMap, error)
	ClaimKeys(ctx context.Context, req domaintypes.ClaimRequest) (domaintypes.ClaimedKeys, error)
	// UploadKeys publishes device keys (nil to leave them unchanged) and
	// signed one-time keys, returning the remaining key counts per algorithm.
	UploadKeys(
		ctx context.Context,
		device *domaintypes.DeviceKeys,
		oneTimeKeys map[string]domaintypes.SignedKey,
	) (map[string]int, error)
}

// Transport delivers opaque to-device events.
type Transport interface {
	SendToDevice(ctx context.Context, eventType, txnID string, messages domaintypes.ContentMap) error
	Sync(ctx context.Context, since string, limit int) (domaintypes.SyncResponse, error)
}

// RelayClient is how we talk to the relay server, all with context.
type RelayClient interface {
	KeyServer
	Transport
}
