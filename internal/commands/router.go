// Package commands maps chat messages to weather actions.
//
// A message is routed when it starts with "/<name>" (or "/<name>@bot") or
// with one of a command's text prefixes, such as "天气 北京".
package commands

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/runtime/supervisor"
	"github.com/iona-s/hefeng-weather/internal/transport"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name    string
	Aliases []string
	// Prefixes trigger the command without a slash, e.g. "天气".
	Prefixes    []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Msg     *transport.Message
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Replier is where answers go; the dispatcher in production.
type Replier interface {
	Enqueue(ctx context.Context, text string, reply *transport.Message, dest *dispatch.Destination) error
}

type Router struct {
	mu       sync.RWMutex
	cmds     map[string]*Command
	prefixes []prefixRoute
	order    []string
	owners   []int64
	limits   *userLimits
	// perMinute is the rate behind limits.
	perMinute int

	out            Replier
	log            logx.Logger
	defaultTimeout time.Duration

	jobs chan func()
}

type prefixRoute struct {
	prefix string
	cmd    *Command
}

func NewRouter(out Replier, owners []int64, defaultTimeout time.Duration, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:           map[string]*Command{},
		owners:         slices.Clone(owners),
		out:            out,
		log:            log.With(logx.String("comp", "commands")),
		defaultTimeout: defaultTimeout,
		jobs:           make(chan func(), 256),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetUserRate limits each non-owner sender to perMinute commands; 0 turns
// limiting off. Safe during hot reload.
func (r *Router) SetUserRate(perMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perMinute == r.perMinute {
		return
	}
	r.perMinute = perMinute
	r.limits = newUserLimits(perMinute)
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register replaces the command set.
func (r *Router) Register(cmds ...Command) {
	byName := map[string]*Command{}
	var prefixes []prefixRoute
	var order []string
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cp := &c
		byName[name] = cp
		order = append(order, name)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = cp
				}
			}
		}
		for _, p := range c.Prefixes {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, prefixRoute{prefix: p, cmd: cp})
			}
		}
	}
	// Longest prefix first so "小时降雨" is not shadowed by a shorter one.
	slices.SortStableFunc(prefixes, func(a, b prefixRoute) int { return len(b.prefix) - len(a.prefix) })

	r.mu.Lock()
	r.cmds = byName
	r.prefixes = prefixes
	r.order = order
	r.mu.Unlock()
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.cmds[n])
	}
	return out
}

// Menu builds the platform command menu.
func (r *Router) Menu() []transport.BotCommand {
	var out []transport.BotCommand
	for _, c := range r.Commands() {
		if c.Access == AccessOwnerOnly {
			continue
		}
		name := sanitizeMenuCommand(c.Name)
		if name == "" {
			continue
		}
		out = append(out, transport.BotCommand{Command: name, Description: c.Description})
	}
	return out
}

// match finds the command and its arguments for a message text.
func (r *Router) match(text string) (*Command, []string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.HasPrefix(text, "/") {
		parts := tokenize(text)
		if len(parts) == 0 {
			return nil, nil, false
		}
		c, ok := r.cmds[commandWord(parts[0])]
		if !ok {
			return nil, nil, false
		}
		return c, parts[1:], true
	}
	for _, p := range r.prefixes {
		if rest, ok := strings.CutPrefix(text, p.prefix); ok {
			return p.cmd, tokenize(rest), true
		}
	}
	return nil, nil, false
}

// Run consumes updates with a small worker pool until ctx ends or updates
// is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	r.log.Info("command router started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(sup.Context(), up)
		}
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	cmd, args, ok := r.match(msg.Text)
	if !ok {
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		r.reply(ctx, msg, "没有权限")
		return
	}

	rid := newReqID()
	req := &Request{
		Msg:     msg,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	r.mu.RLock()
	limits := r.limits
	r.mu.RUnlock()
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWUserLimit(limits, r.isOwner, func(ctx context.Context, req *Request) error {
			r.reply(ctx, req.Msg, msgThrottled)
			return nil
		}),
		MWTimeout(timeout),
	)

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		r.reply(ctx, msg, "繁忙，请稍后再试")
	}
}

func (r *Router) reply(ctx context.Context, msg *transport.Message, text string) {
	if err := r.out.Enqueue(ctx, text, msg, nil); err != nil {
		r.log.Warn("reply enqueue failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

// sanitizeMenuCommand makes a name Telegram-safe: [a-z0-9_]{1,32}.
func sanitizeMenuCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		case ch == '-' || ch == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}
