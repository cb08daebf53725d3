package weather

import (
	"fmt"
	"strconv"
	"strings"
)

func optPercent(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + "%"
}

// FormatNow renders the current conditions message.
func FormatNow(name string, n Now) string {
	return fmt.Sprintf("%s的天气：\n%s\n气温%d℃\n体感温度%d℃\n湿度%d%%\n云量%s",
		name, n.Text, n.Temp, n.FeelsLike, n.Humidity, optPercent(n.Cloud))
}

// FormatRain renders the 24h precipitation message.
func FormatRain(name string, hs []Hourly) string {
	var b strings.Builder
	b.WriteString(name + "的未来24h降雨：")
	for _, h := range hs {
		fmt.Fprintf(&b, "\n-> %s %s %.1fmm %s", h.FxTime.Format("15:04"), h.Text, h.Precip, optPercent(h.Pop))
	}
	return b.String()
}

// FormatForecast renders a short hourly block used by digests.
func FormatForecast(name string, hs []Hourly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s未来%d小时：", name, len(hs))
	for _, h := range hs {
		fmt.Fprintf(&b, "\n-> %s %s %d℃ %.1fmm %s", h.FxTime.Format("15:04"), h.Text, h.Temp, h.Precip, optPercent(h.Pop))
	}
	return b.String()
}
