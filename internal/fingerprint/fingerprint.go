// Package fingerprint 为 (语句, 参数) 计算稳定的查询指纹。
// 纯函数：无状态、无 I/O、无错误返回。
package fingerprint

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/BaSui01/querypool/types"
)

// separator 防止 "ab"+"c" 与 "a"+"bc" 冲突
const separator = "\x00"

// Compute 返回 text 与 params 的指纹，相同输入在任意进程中得到相同结果。
// 参数中含有无法规范化的值时见 Of。
func Compute(text string, params []any) types.Fingerprint {
	fp, _ := Of(text, params)
	return fp
}

// Of 计算指纹并报告参数是否都有规范形式。
// chan、func、complex 等值没有可跨进程复现的编码，只以类型名参与哈希，
// 此时 ok 为 false，不同的值可能得到相同指纹，调用方不应把它用作缓存键。
func Of(text string, params []any) (fp types.Fingerprint, ok bool) {
	encoded, ok := encodeParams(params)

	h := xxhash.New()
	_, _ = h.WriteString(Normalize(text))
	_, _ = h.WriteString(separator)
	_, _ = h.WriteString(encoded)

	return types.Fingerprint(fmt.Sprintf("%016x", h.Sum64())), ok
}

// Normalize 去除首尾空白，并把引号外连续的空白折叠为一个空格。
// 单引号字面量、双引号与反引号标识符中的内容原样保留（反斜杠转义的字符不结束引号），
// 大小写不变。
func Normalize(text string) string {
	text = strings.TrimSpace(text)

	var (
		b       strings.Builder
		quote   rune
		escaped bool
		space   bool
	)
	b.Grow(len(text))

	for _, r := range text {
		if quote != 0 {
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		switch r {
		case '\'', '"', '`':
			quote = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

// encodeParams 以规范形式序列化参数。JSON 对象键由编码器排序，
// 内容相同的 map 编码结果一致。
func encodeParams(params []any) (string, bool) {
	if len(params) == 0 {
		return "[]", true
	}
	if data, err := json.Marshal(params); err == nil {
		return string(data), true
	}

	// 逐个编码，失败的值只保留类型名，不使用 %v 以免混入内存地址
	ok := true
	parts := make([]string, len(params))
	for i, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			ok = false
			parts[i] = fmt.Sprintf("<%T>", p)
			continue
		}
		parts[i] = string(data)
	}
	return "[" + strings.Join(parts, ",") + "]", ok
}

// Short 返回指纹前 n 个字符，用于日志字段
func Short(fp types.Fingerprint, n int) string {
	s := string(fp)
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[:n]
}
