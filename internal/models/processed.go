package models

import (
	"encoding/json"
	"time"
)

// TrackKind 处理后记录的类型
type TrackKind string

const (
	KindWaveform TrackKind = "WAVEFORM"
	KindNumber   TrackKind = "NUMBER"
	KindString   TrackKind = "STRING"
	KindOther    TrackKind = "OTHER"
)

// ProcessedTrack 可直接展示的单条记录，构造后不可修改
type ProcessedTrack struct {
	Name         string      `json:"name"`
	DisplayValue string      `json:"displayValue"`
	RawValue     RecordValue `json:"rawValue"`
	Unit         string      `json:"unit"`
	Timestamp    time.Time   `json:"timestamp"`
	RoomIndex    int         `json:"roomIndex"`
	RoomName     string      `json:"roomName"`
	TrackIndex   int         `json:"trackIndex"`
	RecordIndex  int         `json:"recordIndex"`
	Kind         TrackKind   `json:"type"`
}

// ProcessedRoom 房间及其记录
type ProcessedRoom struct {
	RoomIndex int              `json:"roomIndex"`
	RoomName  string           `json:"roomName"`
	Tracks    []ProcessedTrack `json:"tracks"`
}

// ProcessedBatch 一次上报转换后的完整批次
// AllTracks 与 Rooms[].Tracks 元素一致，顺序为 房间 -> 通道 -> 记录
type ProcessedBatch struct {
	VRCode    *string          `json:"vrCode"`
	Timestamp time.Time        `json:"timestamp"`
	Rooms     []ProcessedRoom  `json:"rooms"`
	AllTracks []ProcessedTrack `json:"allTracks"`
}

// VRCodeOr 返回 VR code，缺省时返回 fallback
func (b *ProcessedBatch) VRCodeOr(fallback string) string {
	if b.VRCode == nil || *b.VRCode == "" {
		return fallback
	}
	return *b.VRCode
}

// ToJSON 序列化为 UTF-8 JSON
func (b *ProcessedBatch) ToJSON() ([]byte, error) {
	return json.Marshal(b)
}
