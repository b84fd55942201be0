package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Database.Port != 5432 {
		t.Fatalf("unexpected ports %d/%d", cfg.Server.Port, cfg.Database.Port)
	}
	if cfg.Signals.StuckInQCAfter != 48*time.Hour {
		t.Fatalf("unexpected stuck_in_qc_after %s", cfg.Signals.StuckInQCAfter)
	}
	if cfg.Signals.SweepInterval != 15*time.Minute {
		t.Fatalf("unexpected sweep_interval %s", cfg.Signals.SweepInterval)
	}
	if cfg.Billing.UnitPriceMinor != 250000 || cfg.Billing.Currency != "INR" {
		t.Fatalf("unexpected billing %+v", cfg.Billing)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("BILLING_UNIT_PRICE_MINOR", "99900")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if !cfg.Redis.Enabled() {
		t.Fatal("redis should be enabled when host is set")
	}
	if cfg.Billing.UnitPriceMinor != 99900 {
		t.Fatalf("unexpected unit price %d", cfg.Billing.UnitPriceMinor)
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := c.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
	if (RedisConfig{}).Enabled() {
		t.Fatal("empty redis config must be disabled")
	}
}
