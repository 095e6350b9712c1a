package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A message cursor is "{unix ns, 19 digits}:{message id}", the suffix of the
// Badger message key. Both stores accept and produce the same form.

func formatCursor(at time.Time, id string) string {
	return fmt.Sprintf("%019d:%s", at.UnixNano(), id)
}

func parseCursor(cursor string) (time.Time, string, error) {
	raw, id, ok := strings.Cut(cursor, ":")
	if !ok || len(raw) != 19 || id == "" {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ns < 0 {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	return time.Unix(0, ns).UTC(), id, nil
}
