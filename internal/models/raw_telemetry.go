package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RawTelemetry 监护设备上报的原始数据（解压、清洗后的 JSON）
type RawTelemetry struct {
	VRCode OptionalString `json:"vrcode"`
	Rooms  []RawRoom      `json:"rooms"`
}

// RawRoom 房间（床位）数据
type RawRoom struct {
	SeqID    OptionalInt    `json:"seqid"`
	RoomName OptionalString `json:"roomname"`
	Tracks   []RawTrack     `json:"trks"`
	Events   []RawEvent     `json:"evts"`
}

// RawTrack 测量通道
type RawTrack struct {
	ID          OptionalString `json:"id"`
	Name        OptionalString `json:"name"`
	Type        OptionalString `json:"type"` // "wav", "num", "str"
	Unit        OptionalString `json:"unit"`
	MonType     OptionalString `json:"montype"`
	DisplayName OptionalString `json:"dname"`
	SampleRate  OptionalFloat  `json:"srate"`
	Records     []RawRecord    `json:"recs"`
}

// RawRecord 单条测量记录
type RawRecord struct {
	Value              RecordValue `json:"val"`
	PrimaryTimestamp   OptionalInt `json:"dt"`
	SecondaryTimestamp OptionalInt `json:"time"`
}

// EffectiveTimestamp 优先使用 dt，其次 time（Unix 秒）
func (r RawRecord) EffectiveTimestamp() (int64, bool) {
	if r.PrimaryTimestamp.Valid {
		return r.PrimaryTimestamp.Value, true
	}
	if r.SecondaryTimestamp.Valid {
		return r.SecondaryTimestamp.Value, true
	}
	return 0, false
}

// RawEvent 房间事件
type RawEvent struct {
	Timestamp OptionalInt    `json:"dt"`
	Value     OptionalString `json:"val"`
}

// OptionalString 可缺省字符串；null 与缺省等价，数字/布尔按文本接收
type OptionalString struct {
	Value string
	Valid bool
}

// UnmarshalJSON 实现 json.Unmarshaler
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	*o = OptionalString{}
	if isNull(data) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = OptionalString{Value: s, Valid: true}
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return fmt.Errorf("cannot use %s as string", string(data[:1]))
	}
	*o = OptionalString{Value: string(bytes.TrimSpace(data)), Valid: true}
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// OptionalInt 可缺省整数；接受浮点（截断）与数字字符串
type OptionalInt struct {
	Value int64
	Valid bool
}

// UnmarshalJSON 实现 json.Unmarshaler
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	*o = OptionalInt{}
	if isNull(data) {
		return nil
	}
	text, err := scalarText(data)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		*o = OptionalInt{Value: v, Valid: true}
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("cannot use %q as integer", text)
	}
	*o = OptionalInt{Value: int64(f), Valid: true}
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(o.Value, 10)), nil
}

// OptionalFloat 可缺省浮点数
type OptionalFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON 实现 json.Unmarshaler
func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	*o = OptionalFloat{}
	if isNull(data) {
		return nil
	}
	text, err := scalarText(data)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("cannot use %q as number", text)
	}
	*o = OptionalFloat{Value: f, Valid: true}
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid || math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// scalarText 返回数字或字符串标量的文本
func scalarText(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[', 't', 'f':
		return "", fmt.Errorf("cannot use %s as number", string(trimmed))
	default:
		return string(trimmed), nil
	}
}
