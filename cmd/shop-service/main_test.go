package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/app"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	setupLogger("debug")
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	setupLogger("nonsense")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NTH_ORDER_THRESHOLD=7\nDISCOUNT_PERCENTAGE=15\n"), 0o600))

	// godotenv не перезаписывает уже заданные переменные, поэтому очищаем их на время теста.
	t.Setenv(app.EnvNthOrderThreshold, "")
	t.Setenv(app.EnvDiscountPercentage, "")
	require.NoError(t, os.Unsetenv(app.EnvNthOrderThreshold))
	require.NoError(t, os.Unsetenv(app.EnvDiscountPercentage))

	cfg, err := loadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.NthOrderThreshold)
	assert.Equal(t, 15, cfg.DiscountPercentage)
}

func TestLoadConfig_MissingEnvFileFallsBackToEnvironment(t *testing.T) {
	t.Setenv(app.EnvNthOrderThreshold, "3")
	t.Setenv(app.EnvDiscountPercentage, "20")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.NthOrderThreshold)
	assert.Equal(t, 20, cfg.DiscountPercentage)
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	t.Setenv(app.EnvNthOrderThreshold, "many")

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
}
