package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iona-s/hefeng-weather/internal/transport"
)

var (
	// ErrInvalidDestination: neither a reply context nor a destination given.
	ErrInvalidDestination = errors.New("invalid destination")
	ErrStopped            = errors.New("dispatcher stopped")
)

type Kind int

const (
	KindGroup Kind = iota
	KindPrivate
)

func (k Kind) String() string {
	if k == KindPrivate {
		return "private"
	}
	return "group"
}

// Destination addresses a chat by its identity string.
type Destination struct {
	Kind Kind
	ID   string
}

// target resolves the chat to send to. Kind does not change the address:
// Telegram chat ids already tell groups (negative) from private chats
// (positive). Kind labels the task in logs and stats.
func (d Destination) target() (transport.ChatTarget, error) {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("bad destination id %q: %w", d.ID, err)
	}
	return transport.ChatTarget{ChatID: id}, nil
}

// Task is one queued message. Exactly one of Reply and Dest is set.
type Task struct {
	ID         string
	Text       string
	Reply      *transport.Message
	Dest       *Destination
	EnqueuedAt time.Time
}

// Route labels where t goes: "reply", "group:<id>" or "private:<id>".
func (t Task) Route() string {
	if t.Dest == nil {
		return "reply"
	}
	return t.Dest.Kind.String() + ":" + t.Dest.ID
}

// SendError describes a failed delivery. It is logged, never returned to
// callers of Enqueue.
type SendError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *SendError) Error() string {
	return "dispatch " + e.TaskID + " failed after " + strconv.Itoa(e.Attempts) + " attempt(s): " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

type Config struct {
	QueueSize int
	// Interval is the nominal gap after each send; the actual gap is drawn
	// uniformly from [0.9, 1.1] x Interval. 0 disables spacing.
	Interval time.Duration
	// RatePerSec is an optional hard ceiling on sends. 0 disables it.
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.RatePerSec < 0 {
		c.RatePerSec = 0
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Stats are best-effort counters.
type Stats struct {
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Retried uint64 `json:"retried"`
}
