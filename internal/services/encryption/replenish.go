package encryption

import (
	"context"

	"github.com/sirupsen/logrus"

	"beacon/internal/services/prekey"
)

const replenishKey = "one-time-keys"

// Replenish tops up the published one-time keys when the last reported
// count is below the low-water mark, and returns the server's count
// afterwards. Concurrent calls share one upload.
func (h *Handler) Replenish(ctx context.Context) (int, error) {
	h.mu.Lock()
	if err := h.readyLocked(); err != nil {
		h.mu.Unlock()
		return 0, err
	}
	h.mu.Unlock()

	v, err, _ := h.replenish.Do(replenishKey, func() (any, error) {
		return h.replenishOnce(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// startReplenishLocked runs Replenish in the background. The caller holds
// h.mu.
func (h *Handler) startReplenishLocked() {
	if h.closing || h.closed {
		return
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		defer cancel()
		_, err, _ := h.replenish.Do(replenishKey, func() (any, error) {
			return h.replenishOnce(ctx)
		})
		if err != nil {
			h.log.WithField("error", err).Warn("one-time key replenishment failed")
		}
	}()
}

// replenishOnce generates and signs keys under the lock, uploads them
// without it, then marks them published and saves.
func (h *Handler) replenishOnce(ctx context.Context) (int, error) {
	h.mu.Lock()
	if err := h.readyLocked(); err != nil {
		h.mu.Unlock()
		return 0, err
	}
	account := h.state.Account
	count := h.keyCount
	if count < 0 {
		count = 0
	}
	n := prekey.Needed(count, h.cfg.OneTimeKeyLowWater, h.cfg.OneTimeKeyBatch, account.MaxNumberOfOneTimeKeys())
	if n == 0 && len(account.OneTimeKeys()) == 0 {
		h.mu.Unlock()
		return h.keyCount, nil
	}
	keys, err := prekey.Prepare(account, h.cfg.UserID, h.cfg.DeviceID, n)
	if err == nil {
		err = h.persistLocked()
	}
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}

	remaining, err := h.prekeys.Upload(ctx, nil, keys)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Account != account {
		// Logged out or reset while uploading.
		return remaining, nil
	}
	account.MarkKeysAsPublished()
	h.keyCount = remaining
	h.log.WithFields(logrus.Fields{"count": len(keys), "remaining": remaining}).Info("one-time keys replenished")
	return remaining, h.persistLocked()
}
