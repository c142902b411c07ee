package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/checkout"
	"github.com/vibast-solutions/ms-go-checkout/app/controller"
	"github.com/vibast-solutions/ms-go-checkout/app/currency"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/storage"
	"github.com/vibast-solutions/ms-go-checkout/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checkout HTTP server",
	Long:  "Start the HTTP (Echo) server exposing the checkout session surface.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, manager, cleanup := mustCreateManager()
	defer cleanup()

	checkoutController := controller.NewCheckoutController(manager, logrus.StandardLogger().WithField("module", "checkout-controller"))
	e := setupHTTPServer(checkoutController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(checkoutController *controller.CheckoutController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	checkoutController.Register(e)

	return e
}

func mustCreateManager() (*config.Config, *checkout.Manager, func()) {
	cfg, db, cleanupDB := mustConnect()

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.App.ServiceName))
		if err != nil {
			logrus.WithError(err).Warn("NATS unavailable, attempt events will not be published")
		} else {
			natsConn = conn
		}
	}

	store := storage.NewFacade(storage.NewMySQLStore(db), logrus.StandardLogger().WithField("module", "storage"))
	rates := currency.RateTable(cfg.Checkout.Rates)
	registry := buildRegistry(cfg, rates)

	manager := checkout.NewManager(checkout.ManagerConfig{
		Registry:       registry,
		Store:          store,
		Rates:          rates,
		Logger:         logrus.StandardLogger().WithField("module", "checkout"),
		NATS:           natsConn,
		PollInterval:   cfg.Checkout.PollInterval,
		RequestTimeout: cfg.Gateway.HTTPTimeout,
		StageCadence:   cfg.Checkout.StageCadence,
		NoticeDebounce: cfg.Checkout.NoticeDebounce,
	})

	cleanup := func() {
		if natsConn != nil {
			natsConn.Close()
		}
		cleanupDB()
	}
	return cfg, manager, cleanup
}

func buildRegistry(cfg *config.Config, rates currency.RateSource) *provider.Registry {
	client := httpclient.New(cfg.Gateway.HTTPTimeout)

	infos := make([]*provider.MethodInfo, 0, 3)
	for _, method := range []entity.Method{entity.MethodPushPayment, entity.MethodHostedRedirect, entity.MethodRedirectCapture} {
		name, stages := provider.Describe(method)
		info := &provider.MethodInfo{
			Method:      method,
			DisplayName: name,
			Stages:      stages,
		}
		switch method {
		case entity.MethodPushPayment:
			info.Driver = provider.NewPushPaymentDriver(client, cfg.Gateway.BaseURL)
			info.PollBudget = cfg.Checkout.PushPollBudget
			info.RecoveryPollBudget = cfg.Checkout.RecoveryPollBudget
		case entity.MethodHostedRedirect:
			// Confirmation is out of band: no active polling, recovery only.
			info.Driver = provider.NewHostedRedirectDriver(client, cfg.Gateway.BaseURL)
			info.RecoveryPollBudget = cfg.Checkout.RecoveryPollBudget
		case entity.MethodRedirectCapture:
			info.Driver = provider.NewRedirectCaptureDriver(client, cfg.Gateway.BaseURL, rates)
		}
		infos = append(infos, info)
	}
	return provider.NewRegistry(infos...)
}

func mustConnect() (*config.Config, *sql.DB, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}
	return cfg, db, cleanup
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return nil
}
