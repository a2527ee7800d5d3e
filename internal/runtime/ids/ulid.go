package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return CreateULIDAt(time.Now())
}

// CreateULIDAt returns a ULID whose timestamp component is t. IDs created for
// the same millisecond stay strictly increasing.
func CreateULIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return id.String()
}

// Valid reports whether id is a well-formed record identifier.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Time extracts the creation time encoded in a ULID.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
