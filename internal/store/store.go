// Package store persists positions, trade records and performance metrics.
// Every query is scoped to one (product mode, sandbox) account.
package store

import (
	"context"
	"errors"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"gorm.io/gorm"
)

// ErrStaleVersion is returned when a position changed since it was read.
var ErrStaleVersion = errors.New("position version is stale")

// Store is a gorm-backed repository for one account.
type Store struct {
	db          *gorm.DB
	productMode market.ProductMode
	sandbox     bool
}

// New creates a Store scoped to productMode and sandbox.
func New(db *gorm.DB, productMode market.ProductMode, sandbox bool) *Store {
	return &Store{db: db, productMode: productMode, sandbox: sandbox}
}

// ProductMode returns the account's product mode.
func (s *Store) ProductMode() market.ProductMode { return s.productMode }

// Sandbox reports whether the account is a testnet or dry-run account.
func (s *Store) Sandbox() bool { return s.sandbox }

// WithinTx runs fn in a transaction. fn receives a Store bound to it.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, productMode: s.productMode, sandbox: s.sandbox})
	})
}

func (s *Store) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("product_mode = ? AND sandbox = ?", s.productMode, s.sandbox)
}

func persistErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.CodePersistence, op, err)
}

// GetPosition returns the open position of instrument, or nil when flat.
func (s *Store) GetPosition(ctx context.Context, instrument string) (*models.Position, error) {
	var pos models.Position
	err := s.scoped(ctx).Where("instrument = ?", instrument).Take(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(err, "get position")
	}
	return &pos, nil
}

// ListPositions returns every open position ordered by instrument.
func (s *Store) ListPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	err := s.scoped(ctx).Order("instrument").Find(&positions).Error
	return positions, persistErr(err, "list positions")
}

// CreatePosition inserts a new position for the account.
func (s *Store) CreatePosition(ctx context.Context, pos *models.Position) error {
	pos.ProductMode = s.productMode
	pos.Sandbox = s.sandbox
	pos.Version = 1
	return persistErr(s.db.WithContext(ctx).Create(pos).Error, "create position")
}

// UpdatePosition writes quantity and entry price if the stored version still
// matches pos.Version, and bumps the version.
func (s *Store) UpdatePosition(ctx context.Context, pos *models.Position) error {
	res := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND version = ?", pos.ID, pos.Version).
		Updates(map[string]any{
			"quantity":    pos.Quantity,
			"entry_price": pos.EntryPrice,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return persistErr(res.Error, "update position")
	}
	if res.RowsAffected == 0 {
		return persistErr(ErrStaleVersion, "update position")
	}
	pos.Version++
	return nil
}

// DeletePosition hard-deletes a position so its key can be reused.
func (s *Store) DeletePosition(ctx context.Context, pos *models.Position) error {
	res := s.db.WithContext(ctx).Where("version = ?", pos.Version).Delete(&models.Position{}, pos.ID)
	if res.Error != nil {
		return persistErr(res.Error, "delete position")
	}
	if res.RowsAffected == 0 {
		return persistErr(ErrStaleVersion, "delete position")
	}
	return nil
}

// AppendTrade inserts a new trade record for the account.
func (s *Store) AppendTrade(ctx context.Context, rec *models.TradeRecord) error {
	rec.ProductMode = s.productMode
	rec.Sandbox = s.sandbox
	return persistErr(s.db.WithContext(ctx).Create(rec).Error, "append trade record")
}

// GetTrade returns the record with the given client order id.
func (s *Store) GetTrade(ctx context.Context, clientOrderID string) (*models.TradeRecord, error) {
	var rec models.TradeRecord
	if err := s.db.WithContext(ctx).Where("client_order_id = ?", clientOrderID).Take(&rec).Error; err != nil {
		return nil, persistErr(err, "get trade record")
	}
	return &rec, nil
}

// TransitionTrade moves a submitted record to status and writes the given
// columns. It reports false when the record was no longer submitted, which
// makes a repeated fill a no-op.
func (s *Store) TransitionTrade(ctx context.Context, clientOrderID string, status models.TradeStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.TradeRecord{}).
		Where("client_order_id = ? AND status = ?", clientOrderID, models.StatusSubmitted).
		Updates(updates)
	if res.Error != nil {
		return false, persistErr(res.Error, "transition trade record")
	}
	return res.RowsAffected == 1, nil
}

// DeleteSubmittedTrade removes a record the exchange never accepted.
func (s *Store) DeleteSubmittedTrade(ctx context.Context, clientOrderID string) error {
	err := s.db.WithContext(ctx).Unscoped().
		Where("client_order_id = ? AND status = ?", clientOrderID, models.StatusSubmitted).
		Delete(&models.TradeRecord{}).Error
	return persistErr(err, "delete trade record")
}

// PendingTrades returns the records of instrument still awaiting an outcome.
func (s *Store) PendingTrades(ctx context.Context, instrument string) ([]models.TradeRecord, error) {
	var recs []models.TradeRecord
	err := s.scoped(ctx).
		Where("instrument = ? AND status = ?", instrument, models.StatusSubmitted).
		Order("id").Find(&recs).Error
	return recs, persistErr(err, "list pending trades")
}

// RecentTrades returns the newest records first. An empty instrument lists all.
func (s *Store) RecentTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error) {
	q := s.scoped(ctx).Order("id DESC")
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.TradeRecord
	err := q.Find(&recs).Error
	return recs, persistErr(err, "list recent trades")
}

// CountTradesSince counts the records created at or after since that count
// toward the daily limit.
func (s *Store) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	var n int64
	err := s.scoped(ctx).Model(&models.TradeRecord{}).
		Where("created_at >= ? AND status <> ?", since, models.StatusRejected).
		Count(&n).Error
	return int(n), persistErr(err, "count trades")
}

// Exposure is the committed capital at entry prices, read in one query.
type Exposure struct {
	Instrument    float64
	Total         float64
	OpenPositions int
}

// Exposure aggregates the open positions of the account.
func (s *Store) Exposure(ctx context.Context, instrument string) (Exposure, error) {
	var row struct {
		InstrumentExposure float64
		TotalExposure      float64
		OpenPositions      int
	}
	err := s.scoped(ctx).Model(&models.Position{}).
		Select(`COALESCE(SUM(CASE WHEN instrument = ? THEN quantity * entry_price ELSE 0 END), 0) AS instrument_exposure,
COALESCE(SUM(quantity * entry_price), 0) AS total_exposure,
COUNT(*) AS open_positions`, instrument).
		Scan(&row).Error
	if err != nil {
		return Exposure{}, persistErr(err, "aggregate exposure")
	}
	return Exposure{Instrument: row.InstrumentExposure, Total: row.TotalExposure, OpenPositions: row.OpenPositions}, nil
}

func (s *Store) accountKey() map[string]any {
	return map[string]any{"product_mode": s.productMode, "sandbox": s.sandbox}
}

// Metrics returns the account's counters, creating the row on first use.
func (s *Store) Metrics(ctx context.Context) (models.PerformanceMetrics, error) {
	m := models.PerformanceMetrics{ProductMode: s.productMode, Sandbox: s.sandbox}
	err := s.db.WithContext(ctx).Where(s.accountKey()).FirstOrCreate(&m).Error
	return m, persistErr(err, "load metrics")
}

// RecordClose folds a realized P&L into the metrics.
func (s *Store) RecordClose(ctx context.Context, pnl float64, at time.Time) error {
	m, err := s.Metrics(ctx)
	if err != nil {
		return err
	}
	m.RecordClose(pnl, at)
	return persistErr(s.db.WithContext(ctx).Save(&m).Error, "save metrics")
}

// RecordRejection counts an order the exchange refused.
func (s *Store) RecordRejection(ctx context.Context) error {
	m, err := s.Metrics(ctx)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&m).
		UpdateColumn("rejected_orders", gorm.Expr("rejected_orders + 1")).Error
	return persistErr(err, "count rejection")
}
