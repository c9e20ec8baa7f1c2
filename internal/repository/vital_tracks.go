package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/UTBM-Alison/vital-connect/internal/models"

	"go.uber.org/zap"
)

const createVitalTracksTable = `
	CREATE TABLE IF NOT EXISTS vital_tracks (
		id             BIGSERIAL PRIMARY KEY,
		vr_code        TEXT,
		batch_time     TIMESTAMPTZ NOT NULL,
		room_index     INTEGER NOT NULL,
		room_name      TEXT NOT NULL,
		track_index    INTEGER NOT NULL,
		record_index   INTEGER NOT NULL,
		track_name     TEXT NOT NULL,
		track_type     TEXT NOT NULL,
		display_value  TEXT NOT NULL,
		raw_value      JSONB,
		unit           TEXT NOT NULL DEFAULT '',
		recorded_at    TIMESTAMPTZ NOT NULL
	)
`

const insertVitalTrack = `
	INSERT INTO vital_tracks (
		vr_code,
		batch_time,
		room_index,
		room_name,
		track_index,
		record_index,
		track_name,
		track_type,
		display_value,
		raw_value,
		unit,
		recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// VitalTrackRepository 处理后记录的持久化
type VitalTrackRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVitalTrackRepository 创建记录仓库
func NewVitalTrackRepository(db *sql.DB, logger *zap.Logger) *VitalTrackRepository {
	return &VitalTrackRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（已存在则跳过）
func (r *VitalTrackRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createVitalTracksTable); err != nil {
		return fmt.Errorf("failed to create vital_tracks table: %w", err)
	}
	return nil
}

// InsertBatch 在一个事务中写入批次的全部记录，返回写入条数
func (r *VitalTrackRepository) InsertBatch(ctx context.Context, batch *models.ProcessedBatch) (int, error) {
	if len(batch.AllTracks) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var vrCode sql.NullString
	if batch.VRCode != nil {
		vrCode = sql.NullString{String: *batch.VRCode, Valid: true}
	}

	for _, track := range batch.AllTracks {
		rawValue, err := rawValueJSON(track.RawValue)
		if err != nil {
			return 0, err
		}

		_, err = tx.ExecContext(ctx, insertVitalTrack,
			vrCode,
			batch.Timestamp,
			track.RoomIndex,
			track.RoomName,
			track.TrackIndex,
			track.RecordIndex,
			track.Name,
			string(track.Kind),
			track.DisplayValue,
			rawValue,
			track.Unit,
			track.Timestamp,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert vital track %s: %w", track.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(batch.AllTracks), nil
}

// rawValueJSON 缺省值存 NULL
func rawValueJSON(value models.RecordValue) (sql.NullString, error) {
	if value.Kind() == models.ValueAbsent {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal raw value: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
