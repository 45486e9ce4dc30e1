// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package server is the command line entry point for ldapbind-server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	config "go.pinniped.dev/ldapbind/internal/config/server"
	"go.pinniped.dev/ldapbind/internal/formidentifier"
	"go.pinniped.dev/ldapbind/internal/metrics"
	"go.pinniped.dev/ldapbind/internal/plog"
	"go.pinniped.dev/ldapbind/internal/upstreamldap"
)

const (
	providerName = "ldap"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// App is an object that represents the ldapbind-server application.
type App struct {
	cmd *cobra.Command

	// CLI flags
	configPath string
}

// New constructs a new App with command line args, stdout and stderr.
func New(ctx context.Context, args []string, stdout, stderr io.Writer) *App {
	app := &App{}
	app.addServerCommand(ctx, args, stdout, stderr)
	return app
}

// Run the server.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// Create the server command and save it into the App.
func (a *App) addServerCommand(ctx context.Context, args []string, stdout, stderr io.Writer) {
	cmd := &cobra.Command{
		Use: `ldapbind-server`,
		Long: "ldapbind-server verifies a login and password by binding to an LDAP\n" +
			"directory as the user's distinguished name.",
		RunE:         func(cmd *cobra.Command, args []string) error { return a.runServer(ctx) },
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	addCommandlineFlagsToCommand(cmd, a)

	a.cmd = cmd
}

// Define the app's commandline flags.
func addCommandlineFlagsToCommand(cmd *cobra.Command, app *App) {
	cmd.Flags().StringVarP(
		&app.configPath,
		"config",
		"c",
		"ldapbind.yaml",
		"path to configuration file",
	)
}

func (a *App) runServer(ctx context.Context) error {
	cfg, err := config.FromPath(ctx, a.configPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	handler, closeProvider, err := prepare(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeProvider() }()

	l, err := net.Listen(cfg.Listen.Network, cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("cannot create listener: %w", err)
	}
	defer func() { _ = l.Close() }()

	plog.Info("ldapbind-server is ready", "address", l.Addr().String(), "url", cfg.Connection.URL)

	return serve(ctx, l, handler)
}

// prepare builds the handler for a loaded config. The returned func closes the directory connections.
func prepare(cfg *config.Config) (http.Handler, func() error, error) {
	recorder := metrics.Init(*cfg.Metrics.Enabled)
	auditLogger := plog.NewAuditLogger(cfg.Audit)

	provider, err := upstreamldap.New(upstreamldap.ProviderConfig{
		Name:         providerName,
		URL:          cfg.Connection.URL,
		BindDN:       cfg.Connection.BindDN,
		BindPassword: cfg.Connection.BindPassword,
		PoolSize:     *cfg.Connection.PoolSize,
		DialTimeout:  cfg.Connection.DialTimeout.Duration,
		BindTimeout:  cfg.Connection.BindTimeout.Duration,
		BaseDN:       cfg.BaseDN,
		DNResolution: upstreamldap.DNResolutionConfig{
			Strategy:     cfg.DNResolution.Strategy,
			Attribute:    cfg.DNResolution.Attribute,
			Path:         cfg.DNResolution.Path,
			SearchFilter: cfg.DNResolution.SearchFilter,
		},
		Metrics:     recorder,
		AuditLogger: auditLogger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create LDAP provider: %w", err)
	}

	form, err := formidentifier.New(formidentifier.Config{
		LoginField:    cfg.Form.LoginField,
		PasswordField: cfg.Form.PasswordField,
		TriggerParam:  cfg.Form.TriggerParam,
		Name:          cfg.Form.IdentifierPluginName,
		Title:         cfg.Form.Title,
		Resolver:      provider.Resolver(),
		AuditLogger:   auditLogger,
	})
	if err != nil {
		_ = provider.Close()
		return nil, nil, fmt.Errorf("could not create form identifier: %w", err)
	}

	return NewHandler(HandlerConfig{
		Authenticator: provider,
		Form:          form,
		Metrics:       recorder,
		AuditLogger:   auditLogger,
	}), provider.Close, nil
}

// serve runs until ctx is cancelled, then shuts the server down gracefully.
func serve(ctx context.Context, l net.Listener, handler http.Handler) error {
	server := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(l)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server exited: %w", err)
	case <-ctx.Done():
		plog.Debug("server context cancelled", "err", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

func main() error { // return an error instead of plog.Fatal to allow defer statements to run
	defer plog.Setup()()

	return New(signalCtx(), os.Args[1:], os.Stdout, os.Stderr).Run()
}

func Main() {
	if err := main(); err != nil {
		plog.Fatal(err)
	}
}

func signalCtx() context.Context {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()

		s := <-signalCh
		plog.Debug("saw signal", "signal", s)
	}()

	return ctx
}
