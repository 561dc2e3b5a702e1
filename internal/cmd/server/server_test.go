package server

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.InternalAddr != "localhost:8081" {
		t.Fatalf("expected default internal addr, got %q", cfg.InternalAddr)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("expected 1h access ttl, got %v", cfg.AccessTTL)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Fatalf("expected 30s handshake timeout, got %v", cfg.HandshakeTimeout)
	}
	if cfg.Debug {
		t.Fatal("expected debug to default off")
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("CALC_DB_PATH", "env.db")
	t.Setenv("CALC_ACCESS_TOKEN_SECRET", "env-secret")
	t.Setenv("CALC_ACCESS_TOKEN_TTL", "15m")

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	args := []string{"-addr", ":9999", "-db", "flag.db"}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("expected flag to override env, got %q", cfg.DBPath)
	}
	if cfg.AccessSecret != "env-secret" {
		t.Fatalf("expected env secret, got %q", cfg.AccessSecret)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %v", cfg.AccessTTL)
	}
}
