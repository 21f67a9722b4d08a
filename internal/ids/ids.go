package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for ballots and audit
// entries. Entropy comes from crypto/rand so neighbouring ids reveal nothing
// about each other.
func New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
