package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  name: order-service
  port: 50052
mysql:
  host: db
  port: 3306
  username: u
  password: p
  database: marketplace
fees:
  methods:
    gcash:
      percent: "0.03"
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 20, cfg.Cart.MaxQuantity)
	assert.Equal(t, "50", cfg.Order.DeliveryFee)
	assert.True(t, cfg.Order.RequirePaidForPrepaid)
	assert.Equal(t, 15*time.Minute, cfg.Order.DraftTTL)
	assert.Equal(t, 2*time.Second, cfg.Catalog.LookupTimeout)
	assert.Equal(t, "cart:changes:", cfg.Redis.ChangeChannelPrefix)
	assert.Equal(t, "order_audit", cfg.MongoDB.Collection)
	assert.Equal(t, 25*time.Second, cfg.Gateway.StreamHeartbeat)
	assert.Equal(t, "0.03", cfg.Fees.Methods["gcash"].Percent)
	assert.Equal(t, "u:p@tcp(db:3306)/marketplace?charset=utf8mb4&parseTime=True&loc=Local", cfg.MySQL.DSN())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MARKETPLACE_ORDER_DELIVERY_FEE", "75.50")
	t.Setenv("MARKETPLACE_CART_MAX_QUANTITY", "5")

	cfg, err := Load(writeConfig(t, "order:\n  delivery_fee: \"50\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "75.50", cfg.Order.DeliveryFee)
	assert.Equal(t, 5, cfg.Cart.MaxQuantity)
}

func TestLoad_CallbackTokenFromEnvironment(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Gateway.PaymentCallbackToken)

	t.Setenv("MARKETPLACE_GATEWAY_PAYMENT_CALLBACK_TOKEN", "s3cret")
	cfg, err = Load(writeConfig(t, "gateway:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Gateway.PaymentCallbackToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
