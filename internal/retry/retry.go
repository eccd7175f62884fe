package retry

import (
	"net/http"
	"slices"
)

// Slack 重投递时附带的请求头
const (
	HeaderRetryNum    = "X-Slack-Retry-Num"
	HeaderRetryReason = "X-Slack-Retry-Reason"
)

const (
	ReasonHTTPTimeout = "http_timeout"
	// 上游把"成功但慢"的响应也报成 http_error，这里当作超时处理（近似判断）
	ReasonHTTPError = "http_error"
)

// DefaultSuppressedReasons 默认需要丢弃的重试原因
var DefaultSuppressedReasons = []string{ReasonHTTPTimeout, ReasonHTTPError}

// Context 单次入站事件的重试元数据
type Context struct {
	RetryCount  []string
	RetryReason []string
}

// FromHeader 从请求头提取重试元数据
func FromHeader(h http.Header) Context {
	return Context{
		RetryCount:  h.Values(HeaderRetryNum),
		RetryReason: h.Values(HeaderRetryReason),
	}
}

// Policy 决定哪些重试属于超时导致的重复投递
type Policy struct {
	suppressed []string
}

// NewPolicy 不传参数(nil)时使用默认原因集合；传空切片表示什么都不丢弃
func NewPolicy(reasons ...string) *Policy {
	if reasons == nil {
		reasons = DefaultSuppressedReasons
	}
	return &Policy{suppressed: slices.Clone(reasons)}
}

// Reasons 返回当前生效的原因集合
func (p *Policy) Reasons() []string {
	return slices.Clone(p.suppressed)
}

// IsTimeoutRetry retryCount 为空表示首次投递；否则 retryReason 必须恰好是一个被抑制的原因
func (p *Policy) IsTimeoutRetry(retryCount, retryReason []string) bool {
	if len(retryCount) == 0 {
		return false
	}
	if len(retryReason) != 1 {
		return false
	}
	return slices.Contains(p.suppressed, retryReason[0])
}

// ShouldDrop 对 Context 的便捷封装
func (p *Policy) ShouldDrop(rc Context) bool {
	return p.IsTimeoutRetry(rc.RetryCount, rc.RetryReason)
}

var defaultPolicy = NewPolicy()

// IsTimeoutRetry 使用默认策略判断
func IsTimeoutRetry(retryCount, retryReason []string) bool {
	return defaultPolicy.IsTimeoutRetry(retryCount, retryReason)
}
