package qweather

// reasons maps provider return codes to the message shown to users.
var reasons = map[string]string{
	"204": "请求成功，但你查询的地区暂时没有你需要的数据。",
	"400": "请求参数错误，请联系管理员。",
	"401": "认证失败。",
	"402": "超过访问次数或余额不足以支持继续访问服务，请联系管理员。",
	"403": "无访问权限，请联系管理员。",
	"404": "查询的数据或地区不存在。",
	"429": "超过限定的每分钟访问次数",
	"500": "无响应或超时.",
}

const (
	reasonConnect = "连接失败"
	reasonUnknown = "未知错误"
	reasonBreaker = "服务暂时不可用，请稍后再试"
)

func reasonFor(code string) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return reasonUnknown + " (" + code + ")"
}
