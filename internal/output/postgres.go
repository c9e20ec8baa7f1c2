package output

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"
	"github.com/UTBM-Alison/vital-connect/internal/common/database"
	"github.com/UTBM-Alison/vital-connect/internal/models"
	"github.com/UTBM-Alison/vital-connect/internal/repository"

	"go.uber.org/zap"
)

const postgresSendTimeout = 10 * time.Second

// PostgresOutput 将批次记录写入 vital_tracks 表
type PostgresOutput struct {
	logger *zap.Logger
	open   func(ctx context.Context) (*sql.DB, error)

	mu   sync.RWMutex
	db   *sql.DB
	repo *repository.VitalTrackRepository
}

// NewPostgresOutput 创建 Postgres 输出
func NewPostgresOutput(cfg *config.DatabaseConfig, logger *zap.Logger) *PostgresOutput {
	return &PostgresOutput{
		logger: logger.With(zap.String("database", cfg.Database)),
		open: func(ctx context.Context) (*sql.DB, error) {
			return database.Open(ctx, cfg)
		},
	}
}

func (p *PostgresOutput) Name() string {
	return "postgres"
}

func (p *PostgresOutput) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	db, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := repository.NewVitalTrackRepository(db, p.logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return err
	}

	p.db = db
	p.repo = repo
	p.logger.Info("Postgres output initialized")
	return nil
}

func (p *PostgresOutput) Send(batch *models.ProcessedBatch) error {
	p.mu.RLock()
	repo := p.repo
	p.mu.RUnlock()
	if repo == nil {
		return fmt.Errorf("postgres output not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresSendTimeout)
	defer cancel()

	n, err := repo.InsertBatch(ctx, batch)
	if err != nil {
		return err
	}
	p.logger.Debug("Inserted vital tracks", zap.Int("rows", n))
	return nil
}

func (p *PostgresOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.repo = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
