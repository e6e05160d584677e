package biz

import (
	"bytes"
	"strconv"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

// Trace 单轮管道的有序中间结果。键冲突时追加 _1、_2 后缀，不覆盖。
// 每次 RunPipeline 新建一个，不跨请求共享。
type Trace struct {
	keys   []string
	values map[string]any
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{values: make(map[string]any)}
}

// Add records value under key and returns the key actually used.
func (t *Trace) Add(key string, value any) string {
	if t == nil {
		return key
	}
	if _, exists := t.values[key]; exists {
		i := 1
		for {
			candidate := key + "_" + strconv.Itoa(i)
			if _, taken := t.values[candidate]; !taken {
				key = candidate
				break
			}
			i++
		}
	}
	t.keys = append(t.keys, key)
	t.values[key] = value
	return key
}

// Get returns the value recorded under key.
func (t *Trace) Get(key string) (any, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (t *Trace) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	return len(t.keys)
}

// MarshalJSON 按插入顺序输出。
func (t *Trace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(t.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
