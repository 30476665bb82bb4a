package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	srv := cfg.GetServerData()
	if srv.LobbyPort != 18000 || srv.GamePort != 18001 {
		t.Fatalf("default ports = %d/%d", srv.LobbyPort, srv.GamePort)
	}
	if got := cfg.GetDatabase().Type; got != "sqlite" {
		t.Fatalf("default database type = %q", got)
	}
}

func TestLoadOverlaysExistingFile(t *testing.T) {
	dir := t.TempDir()
	raw := `{"server": {"svr_name": "EUROPE", "svr_lobby_port": 19000}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	srv := cfg.GetServerData()
	if srv.Name != "EUROPE" || srv.LobbyPort != 19000 {
		t.Fatalf("overlay not applied: %+v", srv)
	}
	// Fields absent from the file keep their defaults.
	if srv.GamePort != 18001 {
		t.Fatalf("game port = %d, want default", srv.GamePort)
	}
}

func TestEnvOverridesDatabaseSelection(t *testing.T) {
	t.Setenv(EnvDatabaseType, "postgres")
	t.Setenv(EnvPostgresDSN, "postgres://mn:mn@localhost/mn")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	db := cfg.GetDatabase()
	if db.Type != "postgres" || db.DSN != "postgres://mn:mn@localhost/mn" {
		t.Fatalf("env override not applied: %+v", db)
	}
}

func TestValidateRejectsPortConflicts(t *testing.T) {
	cfg := DefaultConfig()
	srv := cfg.GetServerData()
	srv.GamePort = srv.LobbyPort
	cfg.SetServerData(srv)

	result := Validate(cfg)
	if result.IsValid() {
		t.Fatal("expected port conflict to fail validation")
	}
}
