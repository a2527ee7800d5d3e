// Package metadata carries message headers between the HTTP producer, the
// broker and the router.
package metadata

// Reserved header keys.
const (
	KeyCorrelationID = "correlation_id"
	KeyDeviceID      = "device_id"
	KeyEnqueuedAt    = "xrayflow_enqueued_at"
	KeyContentType   = "content_type"
	KeySource        = "source"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing key=value. Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
