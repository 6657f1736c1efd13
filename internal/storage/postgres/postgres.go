// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
	"github.com/rovshanmuradov/solana-autosell/internal/storage/models"
)

const migrationLockID = 7401

// Options configure the connection pool.
type Options struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// Store реализует storage.Store поверх PostgreSQL
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens a connection to dsn.
func NewStore(dsn string, opts Options, zapLogger *zap.Logger) (*Store, error) {
	return open(postgres.Open(dsn), opts, zapLogger)
}

// NewStoreFromDialector is used with an existing connection, for example in tests.
func NewStoreFromDialector(dialector gorm.Dialector, opts Options, zapLogger *zap.Logger) (*Store, error) {
	return open(dialector, opts, zapLogger)
}

func open(dialector gorm.Dialector, opts Options, zapLogger *zap.Logger) (*Store, error) {
	log := zapLogger.Named("postgres")

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log.Named("gorm"), parseLogLevel(opts.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return &Store{db: db, logger: log}, nil
}

// Migrate runs AutoMigrate under a session advisory lock so only one
// instance migrates at a time.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	var lockObtained bool
	if err := db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

	if err := db.AutoMigrate(
		&models.Position{},
		&models.OwnerSettings{},
		&models.Sale{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) GetOpen(ctx context.Context, id string) (*position.Position, error) {
	var row models.Position
	err := s.db.WithContext(ctx).
		Where("id = ? AND status IN ?", id, openStatuses()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return row.ToDomain(), nil
}

func (s *Store) ListOpen(ctx context.Context, page storage.Page) ([]*position.Position, error) {
	var rows []models.Position
	q := s.db.WithContext(ctx).
		Where("status IN ?", openStatuses())
	if page.After != nil {
		q = q.Where("(opened_at, id) > (?, ?)", page.After.OpenedAt, page.After.ID)
	}
	q = q.Order("opened_at asc, id asc")
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	out := make([]*position.Position, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

func (s *Store) UpdatePrice(ctx context.Context, p *position.Position) error {
	return s.conditionalUpdate(s.db.WithContext(ctx), p.ID, map[string]interface{}{
		"current_price":   p.CurrentPrice,
		"high_price_seen": p.HighPriceSeen,
		"low_price_seen":  p.LowPriceSeen,
		"pnl_percent":     p.PnLPercent,
	})
}

func (s *Store) ApplyPartialSell(ctx context.Context, p *position.Position, sale storage.Sale) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.conditionalUpdate(tx, p.ID, sellColumns(p)); err != nil {
			return err
		}
		return insertSale(tx, sale)
	})
}

func (s *Store) ClosePosition(ctx context.Context, p *position.Position, sale *storage.Sale) error {
	if !p.Status.IsTerminal() {
		return fmt.Errorf("close position %s: status %q is not terminal", p.ID, p.Status)
	}
	cols := sellColumns(p)
	cols["closed_at"] = p.ClosedAt
	cols["exit_reason"] = p.ExitReason

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.conditionalUpdate(tx, p.ID, cols); err != nil {
			return err
		}
		if sale == nil {
			return nil
		}
		return insertSale(tx, *sale)
	})
}

func (s *Store) GetOwnerConfigs(ctx context.Context, ownerIDs []string) (map[string]position.OwnerConfig, error) {
	out := make(map[string]position.OwnerConfig, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}

	var rows []models.OwnerSettings
	if err := s.db.WithContext(ctx).Where("owner_id IN ?", ownerIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get owner configs: %w", err)
	}
	for i := range rows {
		out[rows[i].OwnerID] = position.ApplyDefaults(rows[i].ToDomain())
	}
	return out, nil
}

func (s *Store) ListSales(ctx context.Context, positionID string) ([]storage.Sale, error) {
	var rows []models.Sale
	err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("executed_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}

	out := make([]storage.Sale, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.Sale{
			Signature:  r.Signature,
			PositionID: r.PositionID,
			OwnerID:    r.OwnerID,
			WalletRef:  r.WalletRef,
			TokenID:    r.TokenID,
			Kind:       r.Kind,
			Reason:     r.Reason,
			Quantity:   r.Quantity,
			Price:      r.Price,
			Received:   r.Received,
			ExecutedAt: r.ExecutedAt,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// conditionalUpdate writes cols only while the row is still open and
// reports ErrConflict when nothing matched.
func (s *Store) conditionalUpdate(db *gorm.DB, id string, cols map[string]interface{}) error {
	res := db.Model(&models.Position{}).
		Where("id = ? AND status IN ?", id, openStatuses()).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update position %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("conditional update matched no row", zap.String("position_id", id))
		return storage.ErrConflict
	}
	return nil
}

func sellColumns(p *position.Position) map[string]interface{} {
	return map[string]interface{}{
		"amount_tokens":       p.AmountTokens,
		"total_sold_tokens":   p.TotalSoldTokens,
		"average_sell_price":  p.AverageSellPrice,
		"total_received":      p.TotalReceived,
		"entry_price":         p.EntryPrice,
		"current_price":       p.CurrentPrice,
		"high_price_seen":     p.HighPriceSeen,
		"low_price_seen":      p.LowPriceSeen,
		"pnl_percent":         p.PnLPercent,
		"status":              string(p.Status),
		"partial_sells_count": p.PartialSellsCount,
		"last_sell_signature": p.LastSellSignature,
		"last_sell_received":  p.LastSellReceived,
	}
}

func insertSale(tx *gorm.DB, sale storage.Sale) error {
	row := models.Sale{
		Signature:  sale.Signature,
		PositionID: sale.PositionID,
		OwnerID:    sale.OwnerID,
		WalletRef:  sale.WalletRef,
		TokenID:    sale.TokenID,
		Kind:       sale.Kind,
		Reason:     sale.Reason,
		Quantity:   sale.Quantity,
		Price:      sale.Price,
		Received:   sale.Received,
		ExecutedAt: sale.ExecutedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert sale %s: %w", sale.Signature, err)
	}
	return nil
}

func openStatuses() []string {
	statuses := position.OpenStatuses()
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

var _ storage.Store = (*Store)(nil)
