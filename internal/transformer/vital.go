package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/models"

	"go.uber.org/zap"
)

// ErrNilTelemetry 输入为空
var ErrNilTelemetry = errors.New("raw telemetry is nil")

// ErrTimestampOutOfRange dt/time 超出可序列化的年份范围 [0, 9999]，常见于设备误发毫秒
var ErrTimestampOutOfRange = errors.New("record timestamp out of range")

// 0000-01-01T00:00:00Z 与 9999-12-31T23:59:59Z 的 Unix 秒
const (
	minEpochSeconds int64 = -62167219200
	maxEpochSeconds int64 = 253402300799
)

// VitalTransformer 将 RawTelemetry 转换为可展示的 ProcessedBatch
type VitalTransformer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewVitalTransformer 创建转换器
func NewVitalTransformer(logger *zap.Logger) *VitalTransformer {
	return &VitalTransformer{
		logger: logger,
		now:    time.Now,
	}
}

// WithClock 替换时钟（测试使用）
func (t *VitalTransformer) WithClock(now func() time.Time) *VitalTransformer {
	t.now = now
	return t
}

// Transform 按 房间 -> 通道 -> 记录 顺序展开所有记录
func (t *VitalTransformer) Transform(raw *models.RawTelemetry) (*models.ProcessedBatch, error) {
	if raw == nil {
		return nil, ErrNilTelemetry
	}

	batch := &models.ProcessedBatch{
		Rooms:     make([]models.ProcessedRoom, 0, len(raw.Rooms)),
		AllTracks: make([]models.ProcessedTrack, 0),
	}
	if raw.VRCode.Valid {
		code := raw.VRCode.Value
		batch.VRCode = &code
	}

	for roomIndex, room := range raw.Rooms {
		roomName := fmt.Sprintf("Room %d", roomIndex)
		if room.RoomName.Valid {
			roomName = room.RoomName.Value
		}

		roomTracks := make([]models.ProcessedTrack, 0)
		for trackIndex, track := range room.Tracks {
			for recordIndex, record := range track.Records {
				processed, err := t.processRecord(track, record, roomIndex, roomName, trackIndex, recordIndex)
				if err != nil {
					return nil, fmt.Errorf("room %d track %d record %d: %w", roomIndex, trackIndex, recordIndex, err)
				}
				roomTracks = append(roomTracks, processed)
				batch.AllTracks = append(batch.AllTracks, processed)
			}
		}

		batch.Rooms = append(batch.Rooms, models.ProcessedRoom{
			RoomIndex: roomIndex,
			RoomName:  roomName,
			Tracks:    roomTracks,
		})
	}

	batch.Timestamp = t.now()

	t.logger.Debug("Transformed telemetry",
		zap.Int("rooms", len(batch.Rooms)),
		zap.Int("tracks", len(batch.AllTracks)),
	)
	return batch, nil
}

// processRecord 转换单条记录
func (t *VitalTransformer) processRecord(
	track models.RawTrack,
	record models.RawRecord,
	roomIndex int,
	roomName string,
	trackIndex int,
	recordIndex int,
) (models.ProcessedTrack, error) {
	timestamp, err := t.recordTime(record)
	if err != nil {
		return models.ProcessedTrack{}, err
	}

	var kind models.TrackKind
	var display string

	value := record.Value
	switch value.Kind() {
	case models.ValueSequence:
		kind = models.KindWaveform
		display = FormatWaveform(value.Items())
	case models.ValueNumber:
		kind = models.KindNumber
		n, _ := value.Number()
		display = FormatNumber(n)
	case models.ValueString:
		kind = models.KindString
		display, _ = value.Str()
	default:
		kind = models.KindOther
		display = value.String()
	}

	name := fmt.Sprintf("Track-%d-%d", roomIndex, trackIndex)
	if track.Name.Valid {
		name = track.Name.Value
	}

	unit := ""
	if track.Unit.Valid {
		unit = track.Unit.Value
	}

	return models.ProcessedTrack{
		Name:         name,
		DisplayValue: display,
		RawValue:     value,
		Unit:         unit,
		Timestamp:    timestamp,
		RoomIndex:    roomIndex,
		RoomName:     roomName,
		TrackIndex:   trackIndex,
		RecordIndex:  recordIndex,
		Kind:         kind,
	}, nil
}

// recordTime dt/time 为 Unix 秒；都缺省时使用处理时刻
func (t *VitalTransformer) recordTime(record models.RawRecord) (time.Time, error) {
	ts, ok := record.EffectiveTimestamp()
	if !ok {
		return t.now(), nil
	}
	if ts < minEpochSeconds || ts > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("%w: %d", ErrTimestampOutOfRange, ts)
	}
	return time.Unix(ts, 0).UTC(), nil
}

// FormatWaveform 波形摘要，只统计数字元素
func FormatWaveform(items []interface{}) string {
	values := make([]float64, 0, len(items))
	for _, item := range items {
		if v, ok := toFloat(item); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return "0 points"
	}

	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}
	avg := sum / float64(len(values))

	return fmt.Sprintf("%d points (%.3f to %.3f, avg: %.3f)", len(values), lo, hi, avg)
}

// FormatNumber 浮点数保留三位小数，整数原样输出
func FormatNumber(n json.Number) string {
	text := n.String()
	if isFloatLiteral(text) {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return text
		}
		return strconv.FormatFloat(f, 'f', 3, 64)
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return text
}

func isFloatLiteral(text string) bool {
	return strings.ContainsAny(text, ".eE")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
