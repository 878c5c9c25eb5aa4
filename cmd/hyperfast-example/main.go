package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/wudi/hyperfast/config"
	"github.com/wudi/hyperfast/internal/logging"
	"github.com/wudi/hyperfast/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to a single configuration file")
	settingsDir := flag.String("settings", "", "Directory holding service-default.yml and service-{env}.yml")
	env := flag.String("env", os.Getenv("SERVICE_ENV"), "Environment overlay for -settings")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hyperfast example %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath, *settingsDir, *env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	b := server.New(cfg, &app{})
	switch {
	case *configPath != "":
		b.WithConfigFile(*configPath)
	case *settingsDir != "":
		b.WithSettingsDir(*settingsDir, *env)
	}

	srv, err := b.Build(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build server: %v\n", err)
		os.Exit(1)
	}

	logging.Info("Starting hyperfast example",
		zap.String("version", version),
		zap.String("address", cfg.Listener.Address),
	)

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path, dir, env string) (*config.Config, error) {
	switch {
	case path != "":
		return server.LoadConfig(path)
	case dir != "":
		return server.LoadLayered(dir, env)
	}
	return config.DefaultConfig(), nil
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type echoRequest struct {
	Message string `json:"message"`
}

// app is a small demo service.
type app struct {
	served atomic.Uint64
}

func (a *app) Build(ctx context.Context) (server.Service, server.ServiceDaemon, error) {
	r := server.NewRouter().
		GET("/test", a.test).
		GET("/users/:id", a.getUser).
		POST("/echo", a.echo).
		Add(http.MethodGet, "/admin", a.admin)
	return r, &heartbeat{app: a, every: time.Minute}, nil
}

func (a *app) test(ctx context.Context, body io.ReadCloser, rt *server.Route, ps server.Params) (*server.Response, error) {
	a.served.Add(1)
	return server.String(rt, rt.Method+"::"+rt.Path+" - test passed"), nil
}

func (a *app) getUser(ctx context.Context, body io.ReadCloser, rt *server.Route, ps server.Params) (*server.Response, error) {
	a.served.Add(1)
	id := ps.ByName("id")
	if id == "0" {
		return nil, server.NoContent("user 0 is reserved")
	}
	return server.JSON(rt, user{ID: id, Name: "user-" + id})
}

func (a *app) echo(ctx context.Context, body io.ReadCloser, rt *server.Route, ps server.Params) (*server.Response, error) {
	a.served.Add(1)
	_, span := server.StartSpan(ctx, "decode echo")
	req, err := server.DecodeJSON[echoRequest](rt, body)
	span.End()
	if err != nil {
		return nil, err
	}
	return server.JSON(rt, req)
}

func (a *app) admin(ctx context.Context, body io.ReadCloser, rt *server.Route, ps server.Params) (*server.Response, error) {
	return nil, server.Forbidden("admin is disabled")
}

type heartbeat struct {
	app   *app
	every time.Duration
}

func (h *heartbeat) Start(ctx context.Context, svc server.Service) {
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logging.Info("heartbeat", zap.Uint64("served", h.app.served.Load()))
		}
	}
}
