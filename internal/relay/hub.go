package relay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"beacon/internal/domain"
)

var (
	// ErrForbidden is returned when a device tries to publish keys for
	// someone else.
	ErrForbidden = errors.New("relay: keys do not belong to the caller")
	// ErrBadRequest is returned for malformed uploads and tokens.
	ErrBadRequest = errors.New("relay: bad request")
)

type queuedKey struct {
	id  string
	key domain.SignedKey
}

type queuedEvent struct {
	pos   uint64
	event domain.Event
}

// Hub is the in-memory directory service and to-device queue. All state is
// lost on exit. It is safe for concurrent use.
type Hub struct {
	mu sync.Mutex

	devices     map[domain.Recipient]domain.DeviceKeys
	oneTimeKeys map[domain.Recipient][]queuedKey
	// seenKeys holds every one-time key id a device has uploaded under its
	// current identity, claimed or not.
	seenKeys map[domain.Recipient]map[string]struct{}
	queues      map[domain.Recipient][]queuedEvent
	txns        map[string]struct{}

	pos    uint64
	lastTS int64
	now    func() time.Time

	metrics *Metrics
	log     logrus.FieldLogger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics records hub activity on m.
func WithMetrics(m *Metrics) HubOption { return func(h *Hub) { h.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) HubOption { return func(h *Hub) { h.log = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) HubOption { return func(h *Hub) { h.now = now } }

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		devices:     make(map[domain.Recipient]domain.DeviceKeys),
		oneTimeKeys: make(map[domain.Recipient][]queuedKey),
		seenKeys:    make(map[domain.Recipient]map[string]struct{}),
		queues:      make(map[domain.Recipient][]queuedEvent),
		txns:        make(map[string]struct{}),
		now:         time.Now,
		log:         logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Metrics returns the hub counters.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Upload stores device keys (when non-nil) and appends one-time keys for the
// calling device in key id order, returning its remaining key counts. Ids
// the device uploaded before are ignored, so a retried upload never queues
// a key twice.
func (h *Hub) Upload(caller domain.Recipient, device *domain.DeviceKeys, oneTimeKeys map[string]domain.SignedKey) (map[string]int, error) {
	if device != nil && device.Recipient() != caller {
		return nil, ErrForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if device != nil {
		if old, ok := h.devices[caller]; ok && old.IdentityKey() != device.IdentityKey() {
			// A new identity invalidates keys signed by the old one.
			delete(h.oneTimeKeys, caller)
			delete(h.seenKeys, caller)
		}
		h.devices[caller] = device.Clone()
	}

	seen := h.seenKeys[caller]
	if seen == nil {
		seen = make(map[string]struct{})
		h.seenKeys[caller] = seen
	}
	ids := make([]string, 0, len(oneTimeKeys))
	for id := range oneTimeKeys {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return keyIDLess(ids[i], ids[j]) })
	for _, id := range ids {
		seen[id] = struct{}{}
		h.oneTimeKeys[caller] = append(h.oneTimeKeys[caller], queuedKey{id: id, key: oneTimeKeys[id]})
	}

	h.metrics.KeysUploaded.Add(float64(len(ids)))
	h.log.WithFields(logrus.Fields{
		"device":  caller.String(),
		"count":   len(ids),
		"ignored": len(oneTimeKeys) - len(ids),
	}).Debug("keys uploaded")
	return h.countsLocked(caller), nil
}

// keyIDLess orders "<algorithm>:<id>" key ids. Ids that are base64 byte
// strings, as olm's big-endian counters are, compare by their decoded bytes
// so the order follows generation order.
func keyIDLess(a, b string) bool {
	algA, idA, _ := strings.Cut(a, ":")
	algB, idB, _ := strings.Cut(b, ":")
	if algA != algB {
		return algA < algB
	}
	rawA, errA := base64.RawStdEncoding.DecodeString(idA)
	rawB, errB := base64.RawStdEncoding.DecodeString(idB)
	if errA != nil || errB != nil {
		return idA < idB
	}
	if len(rawA) != len(rawB) {
		return len(rawA) < len(rawB)
	}
	return bytes.Compare(rawA, rawB) < 0
}

// Query returns every known device of each user.
func (h *Hub) Query(users []string) domain.DeviceKeyMap {
	h.mu.Lock()
	defer h.mu.Unlock()

	want := make(map[string]bool, len(users))
	for _, u := range users {
		want[u] = true
	}
	out := make(domain.DeviceKeyMap)
	for r, d := range h.devices {
		if !want[r.UserName] {
			continue
		}
		if out[r.UserName] == nil {
			out[r.UserName] = make(map[string]domain.DeviceKeys)
		}
		out[r.UserName][r.DeviceName] = d.Clone()
	}
	return out
}

// Claim hands out one key per requested device, oldest upload first. Every
// key is handed out at most once. Devices without a matching key are absent
// from the response.
func (h *Hub) Claim(req domain.ClaimRequest) domain.ClaimedKeys {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(domain.ClaimedKeys)
	for user, byDevice := range req {
		for device, algorithm := range byDevice {
			r := domain.NewRecipient(user, device)
			id, key, ok := h.popLocked(r, algorithm)
			if !ok {
				h.metrics.ClaimMisses.Inc()
				continue
			}
			if out[user] == nil {
				out[user] = make(map[string]map[string]domain.SignedKey)
			}
			out[user][device] = map[string]domain.SignedKey{id: key}
			h.metrics.KeysClaimed.Inc()
		}
	}
	return out
}

func (h *Hub) popLocked(r domain.Recipient, algorithm string) (string, domain.SignedKey, bool) {
	keys := h.oneTimeKeys[r]
	for i, k := range keys {
		if algorithmOf(k.id) == algorithm {
			h.oneTimeKeys[r] = append(keys[:i:i], keys[i+1:]...)
			return k.id, k.key, true
		}
	}
	return "", domain.SignedKey{}, false
}

// Send queues content for every addressed device. A repeated transaction id
// from the same sender device is accepted and ignored.
func (h *Hub) Send(sender domain.Recipient, eventType, txnID string, messages domain.ContentMap) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	txnKey := sender.CombinedName() + "\x00" + txnID
	if _, seen := h.txns[txnKey]; seen {
		h.metrics.DuplicateTxns.Inc()
		h.log.WithFields(logrus.Fields{"sender": sender.String(), "txn_id": txnID}).Debug("duplicate transaction ignored")
		return nil
	}
	h.txns[txnKey] = struct{}{}

	for user, byDevice := range messages {
		for device, content := range byDevice {
			h.pos++
			ev := domain.Event{
				Type:    eventType,
				Sender:  sender.UserName,
				Content: append([]byte(nil), content...),
				AgeTS:   h.tickLocked(),
			}
			r := domain.NewRecipient(user, device)
			h.queues[r] = append(h.queues[r], queuedEvent{pos: h.pos, event: ev})
			h.metrics.EventsQueued.WithLabelValues(eventType).Inc()
		}
	}
	return nil
}

// Sync drops everything at or before since, then returns up to limit queued
// events for the caller. NextBatch is the position to pass as since next time.
func (h *Hub) Sync(caller domain.Recipient, since string, limit int) (domain.SyncResponse, error) {
	var ack uint64
	if since != "" {
		v, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			return domain.SyncResponse{}, fmt.Errorf("%w: since %q", ErrBadRequest, since)
		}
		ack = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	q := h.queues[caller]
	drop := 0
	for drop < len(q) && q[drop].pos <= ack {
		drop++
	}
	q = q[drop:]
	h.queues[caller] = q

	n := len(q)
	if limit > 0 && limit < n {
		n = limit
	}
	resp := domain.SyncResponse{
		NextBatch:        strconv.FormatUint(ack, 10),
		Events:           make([]domain.Event, 0, n),
		OneTimeKeyCounts: h.countsLocked(caller),
	}
	for _, qe := range q[:n] {
		resp.Events = append(resp.Events, qe.event)
		resp.NextBatch = strconv.FormatUint(qe.pos, 10)
	}
	h.metrics.EventsDelivered.Add(float64(n))
	return resp, nil
}

// OneTimeKeyCount returns how many keys of algorithm are left for r.
func (h *Hub) OneTimeKeyCount(r domain.Recipient, algorithm string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countsLocked(r)[algorithm]
}

func (h *Hub) countsLocked(r domain.Recipient) map[string]int {
	counts := map[string]int{domain.AlgorithmSignedCurve25519: 0}
	for _, k := range h.oneTimeKeys[r] {
		counts[algorithmOf(k.id)]++
	}
	return counts
}

// tickLocked returns a millisecond timestamp strictly greater than the last.
func (h *Hub) tickLocked() int64 {
	ts := h.now().UnixMilli()
	if ts <= h.lastTS {
		ts = h.lastTS + 1
	}
	h.lastTS = ts
	return ts
}

func algorithmOf(keyID string) string {
	algorithm, _, _ := strings.Cut(keyID, ":")
	return algorithm
}
