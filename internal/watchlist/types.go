package watchlist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDuplicateWatch: the location is already watched by the identity.
	ErrDuplicateWatch = errors.New("location already watched")
	// ErrWatchNotFound: the identity or location is not watched.
	ErrWatchNotFound = errors.New("watch not found")
)

// Variant selects one of the two watch lists.
type Variant int

const (
	// Multi maps a group identity to an ordered set of locations.
	Multi Variant = iota
	// Single maps a user identity to one default location.
	Single
)

func (v Variant) String() string {
	switch v {
	case Multi:
		return "multi"
	case Single:
		return "single"
	default:
		return "variant(" + strconv.Itoa(int(v)) + ")"
	}
}

func (v Variant) valid() bool { return v == Multi || v == Single }

// Mapping is identity -> locations. Single-variant values always hold
// exactly one element, "" when unset.
type Mapping map[string][]string

// Config configures the store.
//
// Driver values:
//   - "file" (default): two JSON documents under Dir
//   - "sqlite": one SQLite database at Path
type Config struct {
	Driver      string
	Dir         string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Identity renders a chat or user id as the string key used on disk.
func Identity(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(v)
	}
}
