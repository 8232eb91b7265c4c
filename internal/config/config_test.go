package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func loadFresh(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()
	viper.AutomaticEnv()
	return fromViper()
}

func TestDefaults(t *testing.T) {
	cfg := loadFresh(t)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.App.StoreDriver)
	assert.Equal(t, 28, cfg.Replenish.WindowDays)
	assert.Equal(t, 30, cfg.Replenish.HorizonDays)
	assert.Equal(t, 365, cfg.Replenish.MaxDaysWithoutSales)
	assert.Equal(t, 7.0, cfg.Replenish.CriticalBelow)
	assert.Equal(t, 15.0, cfg.Replenish.LowBelow)
	assert.Equal(t, 45.0, cfg.Replenish.NormalBelow)
	assert.Equal(t, time.Hour, cfg.Refresh.Interval())
	assert.Equal(t, 30*time.Second, cfg.Refresh.KeyTimeout())
	assert.Equal(t, 2*time.Hour, cfg.Refresh.StaleAfter())
	assert.True(t, cfg.Refresh.RunOnStart)
	assert.False(t, cfg.Cache.Enabled)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REFRESH_INTERVAL_MINUTES", "15")
	t.Setenv("REFRESH_STALE_FACTOR", "3")
	t.Setenv("REPLENISH_CRITICAL_BELOW", "5.5")
	t.Setenv("CACHE_ENABLED", "true")

	cfg := loadFresh(t)

	assert.Equal(t, "memory", cfg.App.StoreDriver)
	assert.Equal(t, 15*time.Minute, cfg.Refresh.Interval())
	assert.Equal(t, 45*time.Minute, cfg.Refresh.StaleAfter())
	assert.Equal(t, 5.5, cfg.Replenish.CriticalBelow)
	assert.True(t, cfg.Cache.Enabled)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "replenish", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=replenish sslmode=disable", d.DSN())
}
