package memory

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// MemoryType classifies an entry and determines its retention policy.
type MemoryType string

const (
	// TypeKnowledge is long-lived factual material. Permanent.
	TypeKnowledge MemoryType = "knowledge"
	// TypeConsensus records collective decisions. Permanent.
	TypeConsensus MemoryType = "consensus"
	// TypeSystem is operational state. Permanent.
	TypeSystem MemoryType = "system"
	// TypeResult holds computation outputs. Permanent, stored compressed.
	TypeResult MemoryType = "result"
	// TypeError holds failure traces. Kept for a day.
	TypeError MemoryType = "error"
	// TypeContext is conversational context. Kept for an hour.
	TypeContext MemoryType = "context"
	// TypeMetric holds measurements. Kept for an hour, stored compressed.
	TypeMetric MemoryType = "metric"
	// TypeTask is transient task state. Kept for half an hour, stored
	// compressed.
	TypeTask MemoryType = "task"
)

// Retention describes the lifecycle policy of a memory type.
type Retention struct {
	// TTL is how long an entry lives after its last write. Zero means it
	// never expires.
	TTL time.Duration
	// Compress indicates whether payloads are stored compressed.
	Compress bool
}

var retentionPolicies = map[MemoryType]Retention{
	TypeKnowledge: {},
	TypeConsensus: {},
	TypeSystem:    {},
	TypeResult:    {Compress: true},
	TypeError:     {TTL: 24 * time.Hour},
	TypeContext:   {TTL: time.Hour},
	TypeMetric:    {TTL: time.Hour, Compress: true},
	TypeTask:      {TTL: 30 * time.Minute, Compress: true},
}

// RetentionFor returns the policy for a memory type. Unknown types get the
// short-lived context policy rather than accumulating forever.
func RetentionFor(t MemoryType) Retention {
	if p, ok := retentionPolicies[t]; ok {
		return p
	}
	return retentionPolicies[TypeContext]
}

// Entry is one row of collective memory. Exactly one live Entry exists per
// (Namespace, Key); writes to the same key replace content and increment
// Version.
//
// The Compressed flag always describes the Payload field of this object:
// entries held in stores and the hot cache carry the stored form, entries
// returned by the Coordinator are decoded copies with a raw payload. Size is
// the stored payload length in both cases.
type Entry struct {
	ID           string            `json:"id"`
	Namespace    string            `json:"namespace"`
	Key          string            `json:"key"`
	Type         MemoryType        `json:"type"`
	Payload      []byte            `json:"payload"`
	Compressed   bool              `json:"compressed"`
	Size         int               `json:"size"`
	Confidence   float64           `json:"confidence"`
	Version      int               `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	AccessCount  int               `json:"access_count"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CompositeKey returns the namespace-qualified key.
func (e *Entry) CompositeKey() string {
	return e.Namespace + "/" + e.Key
}

// ExpiresAt returns the entry's expiry time. The second return value is
// false for permanent entries.
func (e *Entry) ExpiresAt() (time.Time, bool) {
	r := RetentionFor(e.Type)
	if r.TTL == 0 {
		return time.Time{}, false
	}
	return e.UpdatedAt.Add(r.TTL), true
}

// Expired reports whether the entry's TTL has elapsed at the given time.
// Reads do not extend an entry's life; expiry is measured from the last
// write.
func (e *Entry) Expired(now time.Time) bool {
	exp, ok := e.ExpiresAt()
	if !ok {
		return false
	}
	return now.After(exp)
}

// RawPayload returns the uncompressed payload bytes.
func (e *Entry) RawPayload() ([]byte, error) {
	if !e.Compressed {
		return e.Payload, nil
	}
	return decompressPayload(e.Payload)
}

// Decoded returns a copy with a raw payload, suitable for handing to
// callers.
func (e *Entry) Decoded() (*Entry, error) {
	raw, err := e.RawPayload()
	if err != nil {
		return nil, err
	}

	c := e.Copy()
	c.Payload = raw
	c.Compressed = false

	return c, nil
}

// Copy returns a copy with its own payload and metadata.
func (e *Entry) Copy() *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte{}, e.Payload...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Marshal - json encoding of Entry
func (e *Entry) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *Entry) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}
