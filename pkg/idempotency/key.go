// Package idempotency derives deterministic deduplication keys for outbox
// items. Two enqueue requests carrying the same integration, operation,
// resource and payload always hash to the same key, so the unique index on
// outbox_items.idempotency_key collapses client retries into one row.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON re-encodes raw JSON into a canonical byte form: object keys
// sorted, numbers kept verbatim, no insignificant whitespace. The same
// logical document always produces the same bytes regardless of the field
// order the client sent.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	// encoding/json sorts map keys on marshal; json.Number round-trips
	// numeric literals untouched.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// PayloadHash returns the SHA-256 hex digest of the canonical payload.
func PayloadHash(payload json.RawMessage) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Key derives the idempotency key for one outbox item:
// SHA256(integration_id | operation | stable_resource_id | payload_hash).
func Key(integrationID, operation, stableResourceID string, payload json.RawMessage) (string, error) {
	payloadHash, err := PayloadHash(payload)
	if err != nil {
		return "", err
	}
	material := integrationID + "|" + operation + "|" + stableResourceID + "|" + payloadHash
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:]), nil
}
