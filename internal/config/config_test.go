package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "fake", cfg.Provider.Name)
	assert.Equal(t, "@every 15m", cfg.Billing.RefreshSchedule)
	assert.True(t, cfg.Billing.AutoAcknowledge)
	assert.False(t, cfg.Billing.Reconnect)
	assert.Equal(t, time.Second, cfg.Billing.ReconnectInitial)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("BILLING_APP_PORT", "9090")
	t.Setenv("BILLING_PROVIDER_NAME", "playstore")
	t.Setenv("BILLING_PLAYSTORE_PACKAGE_NAME", "com.example.app")
	t.Setenv("BILLING_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("BILLING_BILLING_RECONNECT", "true")
	t.Setenv("BILLING_BILLING_RECONNECT_MAX", "2m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "playstore", cfg.Provider.Name)
	assert.Equal(t, "com.example.app", cfg.Playstore.PackageName)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Billing.Reconnect)
	assert.Equal(t, 2*time.Minute, cfg.Billing.ReconnectMax)
}

func TestLoadConfig_File(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: production
log:
  level: debug
  format: json
auth:
  jwt_secret: s3cret
provider:
  name: stripe
stripe:
  api_key: sk_test
  customer_id: cus_1
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "cus_1", cfg.Stripe.CustomerID)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	dir := inTempDir(t)
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	inTempDir(t)

	t.Run("playstore needs package", func(t *testing.T) {
		t.Setenv("BILLING_PROVIDER_NAME", "playstore")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "package_name")
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("BILLING_PROVIDER_NAME", "appstore")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("production needs jwt secret", func(t *testing.T) {
		t.Setenv("BILLING_APP_ENV", "production")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "jwt_secret")
	})

	t.Run("production rejects fake provider", func(t *testing.T) {
		t.Setenv("BILLING_APP_ENV", "production")
		t.Setenv("BILLING_AUTH_JWT_SECRET", "secret")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "fake provider")

		t.Setenv("BILLING_PROVIDER_NAME", "playstore")
		t.Setenv("BILLING_PLAYSTORE_PACKAGE_NAME", "com.example.app")
		_, err = LoadConfig("")
		assert.NoError(t, err)
	})

	t.Run("bad broker", func(t *testing.T) {
		t.Setenv("BILLING_KAFKA_BROKERS", "not a broker")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
}
