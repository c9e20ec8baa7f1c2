package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind 记录值的形态
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueNumber
	ValueSequence
	ValueString
	ValueOther
)

// RecordValue 记录值：数字 | 数字序列 | 字符串 | null | 其他 JSON
// 数字以 json.Number 保存，保留原始文本以区分整数与浮点
type RecordValue struct {
	kind  ValueKind
	raw   interface{}
	items []interface{}
}

// NewNumberValue 构造数字值（测试与内部使用）
func NewNumberValue(text string) RecordValue {
	return RecordValue{kind: ValueNumber, raw: json.Number(text)}
}

// NewSequenceValue 构造序列值，元素为 json.Number 或任意 JSON 值
func NewSequenceValue(items ...interface{}) RecordValue {
	return RecordValue{kind: ValueSequence, raw: items, items: items}
}

// NewStringValue 构造字符串值
func NewStringValue(s string) RecordValue {
	return RecordValue{kind: ValueString, raw: s}
}

// Kind 返回值形态
func (v RecordValue) Kind() ValueKind {
	return v.kind
}

// Number 返回数字文本
func (v RecordValue) Number() (json.Number, bool) {
	n, ok := v.raw.(json.Number)
	return n, ok && v.kind == ValueNumber
}

// Items 返回序列元素
func (v RecordValue) Items() []interface{} {
	return v.items
}

// Str 返回字符串值
func (v RecordValue) Str() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok && v.kind == ValueString
}

// Raw 返回底层 JSON 值（nil 表示缺省）
func (v RecordValue) Raw() interface{} {
	return v.raw
}

// String 返回值的文本表示，缺省时为 "null"
func (v RecordValue) String() string {
	if v.kind == ValueAbsent || v.raw == nil {
		return "null"
	}
	switch val := v.raw.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return textOf(val)
	}
}

// UnmarshalJSON 实现 json.Unmarshaler，数字保持 json.Number
func (v *RecordValue) UnmarshalJSON(data []byte) error {
	*v = RecordValue{}
	if isNull(data) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case json.Number:
		*v = RecordValue{kind: ValueNumber, raw: val}
	case []interface{}:
		*v = RecordValue{kind: ValueSequence, raw: val, items: val}
	case string:
		*v = RecordValue{kind: ValueString, raw: val}
	case nil:
	default:
		*v = RecordValue{kind: ValueOther, raw: val}
	}
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (v RecordValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// textOf 将任意 JSON 值渲染为紧凑文本
func textOf(val interface{}) string {
	switch t := val.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, textOf(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
