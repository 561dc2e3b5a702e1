// Package server parses configuration and runs the account server process.
package server

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/calcapp/server/internal/account"
	"github.com/calcapp/server/internal/api"
	"github.com/calcapp/server/internal/api/signin"
	"github.com/calcapp/server/internal/platform/config"
	"github.com/calcapp/server/internal/session"
	"github.com/calcapp/server/internal/storage/sqlite"
	"github.com/calcapp/server/internal/token"
)

// Config holds server command configuration. Environment variables provide
// defaults; flags override them.
type Config struct {
	Addr             string        `env:"CALC_ADDR" envDefault:":8080"`
	InternalAddr     string        `env:"CALC_INTERNAL_ADDR" envDefault:"localhost:8081"`
	DBPath           string        `env:"CALC_DB_PATH" envDefault:"calcserver.db"`
	AccessSecret     string        `env:"CALC_ACCESS_TOKEN_SECRET"`
	AccessTTL        time.Duration `env:"CALC_ACCESS_TOKEN_TTL" envDefault:"1h"`
	HandshakeTimeout time.Duration `env:"CALC_HANDSHAKE_TIMEOUT" envDefault:"30s"`
	GoogleClientID   string        `env:"CALC_GOOGLE_CLIENT_ID"`
	Debug            bool          `env:"CALC_DEBUG"`
}

// ParseConfig parses environment variables and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "public HTTP listen address")
	fs.StringVar(&cfg.InternalAddr, "internal-addr", cfg.InternalAddr, "internal HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database file")
	fs.StringVar(&cfg.AccessSecret, "access-secret", cfg.AccessSecret, "access token signing secret")
	fs.DurationVar(&cfg.AccessTTL, "access-ttl", cfg.AccessTTL, "access token lifetime")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "websocket handshake read deadline")
	fs.StringVar(&cfg.GoogleClientID, "google-client-id", cfg.GoogleClientID, "OAuth client id for external sign-in")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "accept access tokens without an open session")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run wires the services and serves until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	issuer, err := token.NewIssuer(store, []byte(cfg.AccessSecret), cfg.AccessTTL)
	if err != nil {
		return err
	}

	registry := session.NewRegistry()
	accounts := account.NewService(store, registry)
	sessions := session.NewHandler(issuer, registry, cfg.HandshakeTimeout)

	var verifier signin.Verifier
	if cfg.GoogleClientID != "" {
		google, err := signin.NewGoogleVerifier(cfg.GoogleClientID)
		if err != nil {
			return err
		}
		verifier = google
	} else {
		log.Printf("server: external sign-in disabled: no google client id configured")
	}

	gateway := api.NewServer(accounts, issuer, store, registry, sessions, verifier, cfg.Debug)

	public := &http.Server{Addr: cfg.Addr, Handler: gateway.Handler()}
	internal := &http.Server{Addr: cfg.InternalAddr, Handler: gateway.InternalHandler()}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("server: public API listening on %s", cfg.Addr)
		errCh <- public.ListenAndServe()
	}()
	go func() {
		log.Printf("server: internal API listening on %s", cfg.InternalAddr)
		errCh <- internal.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = public.Shutdown(shutdownCtx)
		_ = internal.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
