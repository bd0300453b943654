package types

import (
	"net/http"
	"time"
)

// PartitionKind identifies the resource class a cached response belongs to.
// A resource belongs to exactly one kind, determined solely by its path
// pattern.
type PartitionKind string

const (
	// KindModels holds large binary 3D model assets.
	KindModels PartitionKind = "models"
	// KindStatic holds style, script, image and font assets.
	KindStatic PartitionKind = "static"
	// KindRuntime holds HTML documents and navigation responses.
	KindRuntime PartitionKind = "runtime"
)

// Kinds lists every partition kind in a stable order.
func Kinds() []PartitionKind {
	return []PartitionKind{KindModels, KindStatic, KindRuntime}
}

// CapturedResponse is a stored copy of an origin response: status, headers
// and full body. Stored values are immutable; callers receive deep copies.
type CapturedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Clone returns a deep copy safe to hand to a caller while the original
// stays in the store.
func (r *CapturedResponse) Clone() *CapturedResponse {
	if r == nil {
		return nil
	}
	c := &CapturedResponse{
		StatusCode: r.StatusCode,
		Header:     make(http.Header, len(r.Header)),
		Body:       make([]byte, len(r.Body)),
		CapturedAt: r.CapturedAt,
	}
	for k, v := range r.Header {
		vals := make([]string, len(v))
		copy(vals, v)
		c.Header[k] = vals
	}
	copy(c.Body, r.Body)
	return c
}

// Ok reports whether the response carries a success status worth caching.
func (r *CapturedResponse) Ok() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Size returns the stored body size in bytes.
func (r *CapturedResponse) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Body))
}

// Manifest holds the two static ordered asset lists known at deployment
// time. List order encodes load priority: earlier entries are more critical.
type Manifest struct {
	ModelAssets  []string `yaml:"model_assets" json:"model_assets"`
	StaticAssets []string `yaml:"static_assets" json:"static_assets"`
}

// CacheStats represents per-partition cache statistics.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Entries int     `json:"entries"`
	Size    int64   `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// StatusReport is the reply payload for a cache status query.
type StatusReport struct {
	Version      string   `json:"version"`
	CachedModels []string `json:"cachedModels"`
	TotalModels  int      `json:"totalModels"`
	CachedCount  int      `json:"cachedCount"`
}
