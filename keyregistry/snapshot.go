package keyregistry

import (
	"encoding/json"
	"fmt"
	"sort"
)

// snapshot is the serialized form of the registry's tables. Only
// public key material appears here; the registry never holds private
// halves. Sessions are intentionally absent: they are ephemeral and do
// not survive a restart.
type snapshot struct {
	Records  []*KeyPairRecord      `json:"records"`
	Requests []*KeyExchangeRequest `json:"requests"`
}

// Snapshot serializes the key-pair and exchange-request tables so a
// caller can persist them across restarts.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	snap := snapshot{
		Records: make([]*KeyPairRecord, 0, len(r.records)),
	}
	for _, rec := range r.records {
		snap.Records = append(snap.Records, rec.clone())
	}
	r.mu.RUnlock()

	r.exchange.mu.RLock()
	snap.Requests = make([]*KeyExchangeRequest, 0, len(r.exchange.requests))
	for _, req := range r.exchange.requests {
		snap.Requests = append(snap.Requests, req.clone())
	}
	r.exchange.mu.RUnlock()

	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].KeyID < snap.Records[j].KeyID })
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].RequestID < snap.Requests[j].RequestID })

	return json.Marshal(snap)
}

// Restore replaces the registry's tables with a previously captured
// snapshot. Every record's public key is validated at this boundary;
// a malformed snapshot leaves the registry unchanged.
func (r *Registry) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("malformed snapshot: %w", err)
	}

	records := make(map[string]*KeyPairRecord, len(snap.Records))
	active := make(map[string]string)
	for _, rec := range snap.Records {
		if err := rec.PublicKey.Validate(); err != nil {
			return fmt.Errorf("invalid public key for %s: %w", rec.KeyID, err)
		}
		records[rec.KeyID] = rec
		if rec.IsActive {
			active[deviceKey(rec.UserID, rec.DeviceID)] = rec.KeyID
		}
	}

	requests := make(map[string]*KeyExchangeRequest, len(snap.Requests))
	for _, req := range snap.Requests {
		if err := req.PublicKey.Validate(); err != nil {
			return fmt.Errorf("invalid public key for request %s: %w", req.RequestID, err)
		}
		requests[req.RequestID] = req
	}

	r.mu.Lock()
	r.records = records
	r.active = active
	r.mu.Unlock()

	r.exchange.mu.Lock()
	r.exchange.requests = requests
	r.exchange.mu.Unlock()

	return nil
}
