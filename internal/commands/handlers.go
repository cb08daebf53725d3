package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/iona-s/hefeng-weather/internal/digest"
	"github.com/iona-s/hefeng-weather/internal/watchlist"
	"github.com/iona-s/hefeng-weather/internal/weather"
)

const (
	usageWeather = "错误的命令格式\n应为“天气” [城市]或 [经度] [纬度]"
	usageRain    = "错误的命令格式\n应为“未来降雨” [城市] 或 [经度] [纬度]"
	usageCity    = "错误的命令格式\n应为 /%s [城市]或 [经度] [纬度]"

	msgNoDefault = "请指定城市，或先用 /setcity 设置默认城市"
	msgGroupOnly = "该命令只能在群聊中使用"
	msgThrottled = "操作太频繁，请稍后再试"
)

// WatchStore is the part of the watch-list store the handlers use.
type WatchStore interface {
	Get(ctx context.Context, v watchlist.Variant, identity string) ([]string, bool, error)
	Default(ctx context.Context, identity string) (string, error)
	Add(ctx context.Context, v watchlist.Variant, identity, location string) error
	Remove(ctx context.Context, v watchlist.Variant, identity, location string) error
}

type DigestRunner interface {
	RunOnce(ctx context.Context) (digest.Report, error)
}

// Handlers carries the dependencies of the built-in commands.
type Handlers struct {
	Provider weather.Provider
	Store    WatchStore
	Digest   DigestRunner
	Out      Replier
	// Status enables the owner-only /status command when set.
	Status StatusFunc
	// Help renders the command list; set by Commands.
	help func() string
}

// Commands returns the built-in command set bound to h.
func (h *Handlers) Commands(r *Router) []Command {
	h.help = func() string { return helpText(r.Commands()) }
	cmds := []Command{
		{Name: "weather", Aliases: []string{"tq"}, Prefixes: []string{"天气", "weather"}, Description: "查询实时天气", Usage: "/weather [城市 | 经度 纬度]", Handle: h.weather},
		{Name: "rain", Prefixes: []string{"未来降雨", "小时降雨"}, Description: "查询未来24小时降雨", Usage: "/rain [城市 | 经度 纬度]", Handle: h.rain},
		{Name: "setcity", Description: "设置默认城市", Usage: "/setcity <城市 | 经度 纬度>", Handle: h.setCity},
		{Name: "unsetcity", Description: "清除默认城市", Usage: "/unsetcity", Handle: h.unsetCity},
		{Name: "watch", Description: "本群订阅城市天气推送", Usage: "/watch <城市 | 经度 纬度>", Handle: h.watch},
		{Name: "unwatch", Description: "本群取消订阅", Usage: "/unwatch <城市>", Handle: h.unwatch},
		{Name: "watchlist", Description: "查看本群订阅", Usage: "/watchlist", Handle: h.watchList},
		{Name: "digest", Description: "立即推送天气摘要", Usage: "/digest", Access: AccessOwnerOnly, Handle: h.runDigest},
		{Name: "status", Description: "查看运行状态", Usage: "/status", Access: AccessOwnerOnly, Handle: h.status},
		{Name: "help", Aliases: []string{"start"}, Description: "显示帮助", Usage: "/help", Handle: h.showHelp},
	}
	cmds = slices.DeleteFunc(cmds, func(c Command) bool {
		return (c.Name == "digest" && h.Digest == nil) || (c.Name == "status" && h.Status == nil)
	})
	return cmds
}

func (h *Handlers) reply(ctx context.Context, req *Request, text string) error {
	return h.Out.Enqueue(ctx, text, req.Msg, nil)
}

// queryErr renders the user-facing text of a failed lookup.
func queryErr(err error, usage string) (string, bool) {
	switch {
	case errors.Is(err, weather.ErrInvalidArgument):
		return usage, true
	case errors.Is(err, weather.ErrMissingArgument):
		return msgNoDefault, true
	case errors.Is(err, weather.ErrQueryFailed):
		return "查询失败，" + weather.Reason(err), true
	}
	return "", false
}

// place resolves args, falling back to the sender's default city.
func (h *Handlers) place(ctx context.Context, req *Request) (weather.Place, error) {
	args := req.Args
	if len(args) == 0 {
		def, err := h.Store.Default(ctx, watchlist.Identity(req.Msg.FromID))
		if err != nil {
			return weather.Place{}, err
		}
		if def == "" {
			return weather.Place{}, weather.ErrMissingArgument
		}
		args = []string{def}
	}
	return weather.Resolve(ctx, h.Provider, args)
}

func (h *Handlers) answer(ctx context.Context, req *Request, usage string, fn func(weather.Place) (string, error)) error {
	p, err := h.place(ctx, req)
	if err == nil {
		var text string
		if text, err = fn(p); err == nil {
			return h.reply(ctx, req, text)
		}
	}
	if text, ok := queryErr(err, usage); ok {
		_ = h.reply(ctx, req, text)
		return nil
	}
	_ = h.reply(ctx, req, "查询失败，请稍后再试")
	return err
}

func (h *Handlers) weather(ctx context.Context, req *Request) error {
	return h.answer(ctx, req, usageWeather, func(p weather.Place) (string, error) {
		now, err := h.Provider.Now(ctx, p.Location)
		if err != nil {
			return "", err
		}
		return weather.FormatNow(p.Name, now), nil
	})
}

func (h *Handlers) rain(ctx context.Context, req *Request) error {
	return h.answer(ctx, req, usageRain, func(p weather.Place) (string, error) {
		hs, err := h.Provider.Hourly(ctx, p.Location)
		if err != nil {
			return "", err
		}
		return weather.FormatRain(p.Name, hs), nil
	})
}

func (h *Handlers) setCity(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return h.reply(ctx, req, fmt.Sprintf(usageCity, "setcity"))
	}
	p, err := weather.Resolve(ctx, h.Provider, req.Args)
	if err != nil {
		return h.failed(ctx, req, err, fmt.Sprintf(usageCity, "setcity"))
	}
	err = h.Store.Add(ctx, watchlist.Single, watchlist.Identity(req.Msg.FromID), p.Location)
	switch {
	case errors.Is(err, watchlist.ErrDuplicateWatch):
		return h.reply(ctx, req, "默认城市已经是"+p.Name)
	case err != nil:
		return h.failed(ctx, req, err, "")
	}
	return h.reply(ctx, req, "已将默认城市设置为"+p.Name)
}

func (h *Handlers) unsetCity(ctx context.Context, req *Request) error {
	id := watchlist.Identity(req.Msg.FromID)
	cur, err := h.Store.Default(ctx, id)
	if err != nil {
		return h.failed(ctx, req, err, "")
	}
	if cur == "" {
		return h.reply(ctx, req, "尚未设置默认城市")
	}
	if err := h.Store.Remove(ctx, watchlist.Single, id, cur); err != nil {
		return h.failed(ctx, req, err, "")
	}
	return h.reply(ctx, req, "已清除默认城市")
}

func (h *Handlers) watch(ctx context.Context, req *Request) error {
	if !req.Msg.IsGroup {
		return h.reply(ctx, req, msgGroupOnly)
	}
	if len(req.Args) == 0 {
		return h.reply(ctx, req, fmt.Sprintf(usageCity, "watch"))
	}
	p, err := weather.Resolve(ctx, h.Provider, req.Args)
	if err != nil {
		return h.failed(ctx, req, err, fmt.Sprintf(usageCity, "watch"))
	}
	err = h.Store.Add(ctx, watchlist.Multi, watchlist.Identity(req.Msg.ChatID), p.Location)
	switch {
	case errors.Is(err, watchlist.ErrDuplicateWatch):
		return h.reply(ctx, req, "本群已订阅"+p.Name)
	case err != nil:
		return h.failed(ctx, req, err, "")
	}
	return h.reply(ctx, req, "已订阅"+p.Name+"的天气推送")
}

func (h *Handlers) unwatch(ctx context.Context, req *Request) error {
	if !req.Msg.IsGroup {
		return h.reply(ctx, req, msgGroupOnly)
	}
	if len(req.Args) == 0 {
		return h.reply(ctx, req, fmt.Sprintf(usageCity, "unwatch"))
	}
	group := watchlist.Identity(req.Msg.ChatID)

	// A stored id or coordinate pair is removed as is, without a lookup.
	loc, name := strings.Join(req.Args, ","), strings.Join(req.Args, " ")
	locs, _, err := h.Store.Get(ctx, watchlist.Multi, group)
	if err != nil {
		return h.failed(ctx, req, err, "")
	}
	if !slices.Contains(locs, loc) {
		p, err := weather.Resolve(ctx, h.Provider, req.Args)
		if err != nil {
			return h.failed(ctx, req, err, fmt.Sprintf(usageCity, "unwatch"))
		}
		loc, name = p.Location, p.Name
	}

	err = h.Store.Remove(ctx, watchlist.Multi, group, loc)
	switch {
	case errors.Is(err, watchlist.ErrWatchNotFound):
		return h.reply(ctx, req, "本群未订阅"+name)
	case err != nil:
		return h.failed(ctx, req, err, "")
	}
	return h.reply(ctx, req, "已取消订阅"+name)
}

func (h *Handlers) watchList(ctx context.Context, req *Request) error {
	if !req.Msg.IsGroup {
		return h.reply(ctx, req, msgGroupOnly)
	}
	locs, _, err := h.Store.Get(ctx, watchlist.Multi, watchlist.Identity(req.Msg.ChatID))
	if err != nil {
		return h.failed(ctx, req, err, "")
	}
	if len(locs) == 0 {
		return h.reply(ctx, req, "本群尚未订阅任何城市")
	}
	lines := []string{"本群订阅："}
	for _, loc := range locs {
		name := loc
		if city, err := h.Provider.Lookup(ctx, loc); err == nil {
			name = fmt.Sprintf("%s (%s)", city.Name, loc)
		}
		lines = append(lines, "- "+name)
	}
	return h.reply(ctx, req, strings.Join(lines, "\n"))
}

func (h *Handlers) runDigest(ctx context.Context, req *Request) error {
	rep, err := h.Digest.RunOnce(ctx)
	if err != nil {
		_ = h.reply(ctx, req, "推送部分失败："+err.Error())
		return err
	}
	return h.reply(ctx, req, fmt.Sprintf("已推送%d个群，跳过%d个", rep.Dispatched, rep.Skipped))
}

func (h *Handlers) showHelp(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, h.help())
}

// failed answers with the mapped text for known errors and returns unknown
// ones for the request log.
func (h *Handlers) failed(ctx context.Context, req *Request, err error, usage string) error {
	if text, ok := queryErr(err, usage); ok {
		return h.reply(ctx, req, text)
	}
	_ = h.reply(ctx, req, "操作失败，请稍后再试")
	return err
}

func helpText(cmds []Command) string {
	var b strings.Builder
	b.WriteString("和风天气 可用命令：")
	for _, c := range cmds {
		fmt.Fprintf(&b, "\n%s  %s", c.Usage, c.Description)
		if c.Access == AccessOwnerOnly {
			b.WriteString(" (管理员)")
		}
		if len(c.Prefixes) > 0 {
			fmt.Fprintf(&b, "\n  也可直接发送：%s", strings.Join(c.Prefixes, " / "))
		}
	}
	return b.String()
}
