package feed

import (
	"fmt"

	"map-api/internal/category"
)

// 文档注释：网络类错误
// 背景：传输失败、非 2xx 状态或信封无法解码都归为此类；调用方保持注册表与水位线不变，等下一次轮询重试。
// 约束：Kind 取值 transport/status/decode，作为指标标签使用。
type NetworkError struct {
	Category category.Category
	Kind     string
	Status   int
	Err      error
}

func (e *NetworkError) Error() string {
	src := "search"
	if e.Category.Valid() {
		src = e.Category.String()
	}
	if e.Kind == "status" {
		return fmt.Sprintf("feed %s: unexpected status %d", src, e.Status)
	}
	return fmt.Sprintf("feed %s: %s: %v", src, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// 文档注释：单条记录不符合响应结构
// 背景：缺字段、价格非数值、坐标非法、时间戳无法解析等；只丢弃该条，批次其余部分照常应用。
// 约束：Index 为记录在 data 数组中的下标；信封级字段（如 last_update）出错时 Index 为 -1。
type MalformedResponse struct {
	Category category.Category
	Index    int
	ID       int64
	Reason   string
}

func (e *MalformedResponse) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("feed %s: malformed envelope: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("feed %s: malformed item #%d (id=%d): %s", e.Category, e.Index, e.ID, e.Reason)
}
