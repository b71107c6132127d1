package contract

import (
	"fmt"
	"strconv"
)

// Lookup 沿键路径取值；中途缺失或类型不符返回 false。
// 数字段用于下标（如 "0"）。
func (r Result) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(r)
	for _, k := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[k]
			if !ok {
				return nil, false
			}
			cur = v
		case Result:
			v, ok := node[k]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// TextAt 取键路径上的字符串；缺失返回 ErrNoText。
func (r Result) TextAt(path ...string) (string, error) {
	v, ok := r.Lookup(path...)
	if !ok {
		return "", ErrNoText
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field is %T", ErrNoText, v)
	}
	return s, nil
}
