package database

import (
	"path/filepath"
	"testing"
	"time"

	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_KeepsRowsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bot.db")

	db, err := NewDatabase(dsn)
	require.NoError(t, err)
	pos := models.Position{
		Instrument:  "BTCUSDT",
		ProductMode: market.ProductSpot,
		Side:        market.Long,
		Quantity:    0.01,
		EntryPrice:  50000,
		OpenedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(&pos).Error)
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())

	db, err = NewDatabase(dsn)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&models.Position{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPositionKeyIsUnique(t *testing.T) {
	db, err := NewDatabase("file:unique_key?mode=memory&cache=shared")
	require.NoError(t, err)

	base := models.Position{Instrument: "ETHUSDT", ProductMode: market.ProductSpot, Side: market.Long, Quantity: 1, EntryPrice: 2000, OpenedAt: time.Now()}
	first := base
	require.NoError(t, db.Create(&first).Error)

	dup := base
	assert.Error(t, db.Create(&dup).Error)

	sandbox := base
	sandbox.Sandbox = true
	assert.NoError(t, db.Create(&sandbox).Error)
}
