package cv

import "strings"

// Slugify 将标题转换为 URL 安全的 slug：
// 小写、去掉非字母数字、空白与连字符折叠为单个连字符、去掉首尾连字符。
// 幂等：Slugify(Slugify(x)) == Slugify(x)。
func Slugify(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))

	var b strings.Builder
	b.Grow(len(lower))
	pendingHyphen := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '-':
			pendingHyphen = true
		default:
			// 其余字符直接丢弃，不产生分隔符。
		}
	}
	return b.String()
}
