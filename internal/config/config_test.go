package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/finance")
	t.Setenv("SELLER_STATE", "")
	t.Setenv("SETTLEMENT_TOLERANCE", "")
	t.Setenv("RATE_REFRESH_INTERVAL", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.ServerPort)
	assert.Equal(t, "Haryana", c.SellerState)
	assert.Equal(t, "1", c.SettlementTolerance.String())
	assert.Equal(t, 15*time.Minute, c.RateRefreshInterval)
	assert.Equal(t, "100-M", c.RateLimit)
	assert.Equal(t, "info", c.GetLoggerConfig().Level)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL is required"},
		{"negative tolerance", map[string]string{"SETTLEMENT_TOLERANCE": "-1"}, "SETTLEMENT_TOLERANCE must not be negative"},
		{"bad tolerance", map[string]string{"SETTLEMENT_TOLERANCE": "abc"}, "SETTLEMENT_TOLERANCE"},
		{"bad interval", map[string]string{"RATE_REFRESH_INTERVAL": "soon"}, "RATE_REFRESH_INTERVAL"},
		{"bad redis db", map[string]string{"REDIS_DB": "one"}, "REDIS_DB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/finance")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
