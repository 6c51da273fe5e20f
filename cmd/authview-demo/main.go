package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-auth-view"
	"github.com/goliatone/go-auth-view/identity"
	"github.com/goliatone/go-auth-view/internal/devidentity"
	"github.com/goliatone/go-auth-view/store/bunstore"
	"github.com/goliatone/go-print"
	"go.uber.org/zap"
)

//go:embed views
var viewsFS embed.FS

type demoConfig struct {
	Addr          string        `env:"ADDR" envDefault:":3030"`
	Debug         bool          `env:"DEBUG"`
	DevIdentity   bool          `env:"DEV_IDENTITY" envDefault:"true"`
	SeedEmail     string        `env:"SEED_EMAIL" envDefault:"demo@example.com"`
	SeedPassword  string        `env:"SEED_PASSWORD" envDefault:"demo-password"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`
}

func main() {
	zl, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(zl); err != nil {
		zl.Fatal("authview demo failed", zap.Error(err))
	}
}

func run(zl *zap.Logger) error {
	logger := auth.NewZapLogger(zl)

	cfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}

	dcfg := &demoConfig{}
	if err := env.ParseWithOptions(dcfg, env.Options{Prefix: "AUTHVIEW_"}); err != nil {
		return fmt.Errorf("parse demo env: %w", err)
	}

	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		logger.Warn("AUTHVIEW_JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = "authview-dev-secret"
	}

	if dcfg.Debug {
		fmt.Println(print.MaybeHighlightJSON(cfg))
	}

	ctx := context.Background()

	db, err := bunstore.Open(cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bunstore.CreateTable(ctx, db); err != nil {
		return err
	}

	verifier, err := identity.NewVerifierFromConfig(cfg, identity.WithVerifierLogger(logger))
	if err != nil {
		return err
	}
	defer verifier.Close()

	engine := django.NewFileSystem(http.FS(mustSub(viewsFS, "views")), ".html")
	for name, fn := range auth.TemplateHelpers() {
		engine.AddFunc(name, fn)
	}

	app := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
	})

	if dcfg.DevIdentity {
		tokens := auth.NewTokenService([]byte(cfg.JWTSecret), 24*time.Hour, cfg.Issuer, cfg.Audience, logger)
		dev := devidentity.New(tokens, devidentity.WithLogger(logger))
		if _, err := dev.Register(dcfg.SeedEmail, dcfg.SeedPassword, map[string]any{"first_name": "Demo"}); err != nil {
			return err
		}
		dev.Mount(app)
		logger.Info("dev identity provider mounted, seed account %s", dcfg.SeedEmail)
	}

	h := newHandlers(cfg, db, verifier, logger, dcfg.Debug)
	h.register(app)

	errc := make(chan error, 1)
	go func() {
		logger.Info("authview demo listening on %s", dcfg.Addr)
		errc <- app.Listen(dcfg.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case sig := <-waitExitSignal():
		logger.Info("received %s, shutting down", sig)
	}

	return app.ShutdownWithTimeout(dcfg.ShutdownGrace)
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
