package cachestore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one cached page snapshot. Serialized as JSON by every backend so
// entries round-trip identically through memory and Redis.
type Record struct {
	// Content is the rendered HTML.
	Content string `json:"content"`

	// RenderTimeMs is when the snapshot was rendered, epoch milliseconds.
	RenderTimeMs int64 `json:"render_time_ms"`

	// StatusCode is the HTTP status the renderer observed.
	StatusCode int `json:"status_code"`

	// TTLSeconds is the TTL the record was stored with.
	TTLSeconds int `json:"ttl_seconds"`
}

// NewRecord creates a record stamped with the current time.
func NewRecord(content string, statusCode int, ttl time.Duration) *Record {
	return &Record{
		Content:      content,
		RenderTimeMs: time.Now().UnixMilli(),
		StatusCode:   statusCode,
		TTLSeconds:   int(ttl / time.Second),
	}
}

// RenderedAt returns the render timestamp.
func (r *Record) RenderedAt() time.Time {
	return time.UnixMilli(r.RenderTimeMs)
}

// Age returns the time elapsed since the snapshot was rendered.
func (r *Record) Age() time.Duration {
	return time.Since(r.RenderedAt())
}

// Marshal serializes the record for storage.
func (r *Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal cache record: %w", err)
	}
	return data, nil
}

// DecodeRecord deserializes a stored payload. A malformed payload returns
// ErrInvalidRecord; callers must treat it as a cache miss.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &rec, nil
}
