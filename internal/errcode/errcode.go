package errcode

// 错误码约定：
// - 0：无错误
// - 5xxx：系统错误（需要中断流程）
const (
	OK          = 0
	SystemError = 5000
)
