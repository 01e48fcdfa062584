package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTestID returns a process-unique test identifier of the form
// test-<unix seconds>-<random hex>.
func NewTestID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("test-%d-%s", now.Unix(), suffix)
}
