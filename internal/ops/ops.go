package ops

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/resolve"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ParseDialect converts user-facing delimiter and quote strings into a
// dialect. Empty strings select the defaults; "tab" and `\t` name a tab.
func ParseDialect(delimiter, quote string) (resolve.Dialect, error) {
	d := resolve.DefaultDialect
	if delimiter != "" {
		b, err := singleByte("delimiter", delimiter)
		if err != nil {
			return d, err
		}
		d.Delimiter = b
	}
	if quote != "" {
		b, err := singleByte("quote", quote)
		if err != nil {
			return d, err
		}
		d.Quote = b
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func singleByte(field, s string) (byte, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	}
	if len(s) != 1 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be a single ASCII character, got %q", field, s))
	}
	return s[0], nil
}

// cleanOptionalString trims s and drops it when blank.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a new ULID. IDs from one process sort in
// creation order.
func generateULID() (string, error) {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
