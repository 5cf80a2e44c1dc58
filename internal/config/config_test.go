package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("DATABASE_URL", "x")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoadSQLiteDefaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUBSIDIARY", "")
	t.Setenv("AGENT_ID", "")
	t.Setenv("CHECK_INTERVAL_SECONDS", "")
	t.Setenv("NOTIFICATION_THRESHOLD_MINUTES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "stockwatch.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.CheckInterval != DefaultCheckInterval {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.ThresholdMinutes != DefaultThresholdMinutes {
		t.Errorf("ThresholdMinutes = %d", cfg.ThresholdMinutes)
	}
	if cfg.AgentID != "checker-all" {
		t.Errorf("AgentID = %q", cfg.AgentID)
	}
	if cfg.TargetPause != time.Second {
		t.Errorf("TargetPause = %v", cfg.TargetPause)
	}
}

func TestLoadSingleRegion(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SUBSIDIARY", " fr ")
	t.Setenv("AGENT_ID", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "FR" {
		t.Errorf("Region = %q, want FR", cfg.Region)
	}
	if cfg.AgentID != "checker-fr" {
		t.Errorf("AgentID = %q, want checker-fr", cfg.AgentID)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadClampsStaticDefaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("CHECK_INTERVAL_SECONDS", "5")
	t.Setenv("NOTIFICATION_THRESHOLD_MINUTES", "99999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CheckInterval != MinCheckInterval {
		t.Errorf("CheckInterval = %v, want %v", cfg.CheckInterval, MinCheckInterval)
	}
	if cfg.ThresholdMinutes != MaxThresholdMinutes {
		t.Errorf("ThresholdMinutes = %d, want %d", cfg.ThresholdMinutes, MaxThresholdMinutes)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{10 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{300 * time.Second, 300 * time.Second},
		{2 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := ClampInterval(tt.in); got != tt.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for in, want := range map[int]int{0: 1, -5: 1, 1: 1, 60: 60, 1440: 1440, 1441: 1440} {
		if got := ClampThreshold(in); got != want {
			t.Errorf("ClampThreshold(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("X_LIST", " a, ,b ,c")
	got := envList("X_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("envList = %v", got)
	}
	t.Setenv("X_LIST", " , ")
	if got := envList("X_LIST", []string{"d"}); len(got) != 1 || got[0] != "d" {
		t.Fatalf("envList fallback = %v", got)
	}
}
