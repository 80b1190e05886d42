package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// DisplayID returns the human-facing affidavit identifier printed on the
// issued record and written to the ledger, e.g. AFD-2026-01J8ZQ4R9X.
// The ULID tail keeps it unique; the year keeps it legible to clerks.
func DisplayID(t time.Time) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy).String()
	entropyMu.Unlock()
	return fmt.Sprintf("AFD-%d-%s", t.Year(), id[len(id)-10:])
}
