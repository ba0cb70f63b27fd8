package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumeric(t *testing.T) {
	assert.Equal(t, "0.46", numeric(0.46))
	assert.Equal(t, "5", numeric(5))
	assert.Equal(t, "0.333333", numeric(1.0/3))
	assert.Equal(t, "-12.5", numeric(-12.5))
}

// Requiere un Postgres real; se salta si WEATHERBOT_TEST_DATABASE_URL no está definida.
func TestPostgresRecorder_RecordTrade(t *testing.T) {
	dsn := os.Getenv("WEATHERBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WEATHERBOT_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := NewPostgresRecorder(ctx, dsn)
	require.NoError(t, err)
	defer rec.Close()

	orderID := "test-" + time.Now().Format("150405.000000")
	require.NoError(t, rec.RecordTrade(ctx, domain.TradeRecord{
		OrderID: orderID, MarketID: "m1", TokenID: "yes-m1", Side: domain.SideYes,
		Price: 0.46, Size: 5, Status: domain.OrderPending, RecordedAt: time.Now(),
	}))

	var price string
	err = rec.pool.QueryRow(ctx, `SELECT price::TEXT FROM weather_trades WHERE order_id = $1`, orderID).Scan(&price)
	require.NoError(t, err)
	assert.Equal(t, "0.46", price)

	_, err = rec.pool.Exec(ctx, `DELETE FROM weather_trades WHERE order_id = $1`, orderID)
	require.NoError(t, err)
}
