package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/runtime/supervisor"
)

// Status is a point-in-time view of the running bot for /status.
type Status struct {
	StartedAt  time.Time
	Dispatch   dispatch.Stats
	Supervisor supervisor.Counters
	// Breaker is the provider circuit state ("closed", "open", "half-open").
	Breaker    string
	NextDigest []time.Time
}

// StatusFunc collects the current Status.
type StatusFunc func() Status

func (h *Handlers) status(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, renderStatus(h.Status(), time.Now()))
}

func renderStatus(st Status, now time.Time) string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	health := "正常"
	if st.Breaker != "" && st.Breaker != "closed" {
		health = "降级（天气服务熔断：" + st.Breaker + "）"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "运行状态：%s\n", health)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "已运行：%s\n", strings.TrimSpace(humanize.RelTime(st.StartedAt, now, "", "")))
	}

	b.WriteString("\n发送队列\n")
	fmt.Fprintf(&b, "  排队：%d\n  已发送：%s\n  失败：%d\n  重试：%d\n",
		st.Dispatch.Queued, humanize.Comma(int64(st.Dispatch.Sent)), st.Dispatch.Failed, st.Dispatch.Retried)

	b.WriteString("\n定时推送\n")
	if len(st.NextDigest) == 0 {
		b.WriteString("  未启用\n")
	}
	for _, t := range st.NextDigest {
		fmt.Fprintf(&b, "  %s（%s）\n", t.Format("01-02 15:04"), strings.TrimSpace(humanize.RelTime(now, t, "后", "前")))
	}

	b.WriteString("\n运行时\n")
	fmt.Fprintf(&b, "  Go：%s\n", runtime.Version())
	fmt.Fprintf(&b, "  协程：%d（托管 %d，重启 %d，panic %d）\n",
		runtime.NumGoroutine(), st.Supervisor.Active, st.Supervisor.Restarts, st.Supervisor.Panics)
	fmt.Fprintf(&b, "  内存：%s / 系统 %s，GC %d 次", humanize.IBytes(m.HeapInuse), humanize.IBytes(m.Sys), m.NumGC)
	return b.String()
}
