package relay

import "beacon/internal/domain"

// Request and response bodies of the HTTP API. Field names follow the
// Matrix client-server API the relay mimics.

const (
	// HeaderUser and HeaderDevice identify the calling device.
	HeaderUser   = "X-Beacon-User"
	HeaderDevice = "X-Beacon-Device"

	pathPrefix = "/_matrix/client/v3"
)

type uploadRequest struct {
	DeviceKeys  *domain.DeviceKeys          `json:"device_keys,omitempty"`
	OneTimeKeys map[string]domain.SignedKey `json:"one_time_keys,omitempty"`
}

type uploadResponse struct {
	OneTimeKeyCounts map[string]int `json:"one_time_key_counts"`
}

type queryRequest struct {
	DeviceKeys map[string][]string `json:"device_keys"`
}

type queryResponse struct {
	DeviceKeys domain.DeviceKeyMap `json:"device_keys"`
}

type claimRequest struct {
	OneTimeKeys domain.ClaimRequest `json:"one_time_keys"`
}

type claimResponse struct {
	OneTimeKeys domain.ClaimedKeys `json:"one_time_keys"`
}

type sendToDeviceRequest struct {
	Messages domain.ContentMap `json:"messages"`
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	ToDevice  struct {
		Events []domain.Event `json:"events"`
	} `json:"to_device"`
	OneTimeKeyCounts map[string]int `json:"device_one_time_keys_count,omitempty"`
}

type errorResponse struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
}

func toSyncResponse(r domain.SyncResponse) syncResponse {
	var out syncResponse
	out.NextBatch = r.NextBatch
	out.ToDevice.Events = r.Events
	out.OneTimeKeyCounts = r.OneTimeKeyCounts
	return out
}

func (s syncResponse) toDomain() domain.SyncResponse {
	return domain.SyncResponse{
		NextBatch:        s.NextBatch,
		Events:           s.ToDevice.Events,
		OneTimeKeyCounts: s.OneTimeKeyCounts,
	}
}
