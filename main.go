package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/activities"
	"github.com/surajsub/tenant-provisioner/config"
	"github.com/surajsub/tenant-provisioner/db"
	"github.com/surajsub/tenant-provisioner/handlers"
	"github.com/surajsub/tenant-provisioner/ingest"
	"github.com/surajsub/tenant-provisioner/logger"
	"github.com/surajsub/tenant-provisioner/notify"
	"github.com/surajsub/tenant-provisioner/pipeline"
	"github.com/surajsub/tenant-provisioner/providers"
	"github.com/surajsub/tenant-provisioner/provisioning"
	"github.com/surajsub/tenant-provisioner/steps"
	"github.com/surajsub/tenant-provisioner/tenants"
	"github.com/surajsub/tenant-provisioner/workers"
	"go.temporal.io/sdk/client"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (optional)")
	flag.Parse()

	loadedEnv, envErr := config.LoadDotEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		log.Fatalf("Failed to load .env: %v", envErr)
	}
	if loadedEnv {
		log.Info("Using .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.InitDB(db.Options{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		Debug:    cfg.Database.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal(err)
	}

	var listeners []tenants.ActivationListener
	if cfg.GitHub.Token != "" && cfg.GitHub.Repo != "" {
		gh, err := notify.NewGitHubClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			log.Fatal(err)
		}
		listeners = append(listeners, notify.NewIssueNotifier(gh, cfg.GitHub.Owner, cfg.GitHub.Repo, log))
	}
	manager := tenants.NewManager(db.NewTenantStore(gdb), log, listeners...)
	if _, err := manager.EnsureDefaultTenant(ctx); err != nil {
		log.Fatalf("Failed to seed default tenant: %v", err)
	}

	var creds db.CredentialStore
	if cfg.Vault.Address != "" {
		vaultStore, err := providers.NewVaultCredentialStore(ctx, providers.VaultOptions{
			Address:      cfg.Vault.Address,
			CACertPath:   cfg.Vault.CACert,
			Token:        cfg.Vault.Token,
			RoleID:       cfg.Vault.RoleID,
			SecretID:     cfg.Vault.SecretID,
			AppRoleMount: cfg.Vault.AppRoleMount,
			KVMount:      cfg.Vault.KVMount,
		}, log)
		if err != nil {
			log.Fatal(err)
		}
		creds = vaultStore
	} else {
		log.Warn("No vault configured, tenant datasource credentials will not be stored")
	}

	graph, err := providers.NewS3GraphStore(ctx, providers.S3Options{
		Endpoint:  cfg.Graph.Endpoint,
		Region:    cfg.Graph.Region,
		Bucket:    cfg.Graph.Bucket,
		AccessKey: cfg.Graph.AccessKey,
		SecretKey: cfg.Graph.SecretKey,
		PathStyle: cfg.Graph.PathStyle,
	}, log)
	if err != nil {
		log.Fatal(err)
	}

	temporalLogger, err := logger.NewTemporalLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	temporalOptions := client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalLogger,
	}
	c, err := client.Dial(temporalOptions)
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	engine := workers.NewNamespaceEngine(c.WorkflowService(), c.OperatorService(), log)
	engine.Retention = time.Duration(cfg.Temporal.RetentionHours) * time.Hour

	dsHost, dsPort, dsName := cfg.DatasourceHost()
	deps := steps.Dependencies{
		Schemas:   db.NewSchemaProvisioner(gdb, creds, log),
		Audit:     db.NewAuditStore(gdb),
		Workflows: engine,
		Graph:     graph,
		Configs:   db.NewConfigRegistry(gdb),
		Datasource: steps.DatasourceTemplate{
			Host:         dsHost,
			Port:         dsPort,
			Database:     dsName,
			SchemaPrefix: cfg.Datasource.SchemaPrefix,
			RolePrefix:   cfg.Datasource.RolePrefix,
		},
		Logger: log,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runs := db.NewRunStore(gdb)
	svc, err := provisioning.NewService(deps, manager,
		pipeline.NewMetricsObserver(registry),
		db.NewRunRecorder(runs, log),
	)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(logrus.Fields{
		"creation": svc.CreationSteps(),
		"deletion": svc.DeletionSteps(),
	}).Info("Pipelines ready")

	workerManager := workers.NewWorkerManager(c, &activities.Activities{Pipeline: svc, Runs: runs, Logger: log}, log)
	if err := workerManager.StartWorker(cfg.Temporal.TaskQueue); err != nil {
		log.Fatal(err)
	}
	defer workerManager.StopAll()

	ingester := ingest.NewIngester(cfg.Ingest.ScratchDir, log)
	ingester.Steps = svc.CreationSteps()

	holder := handlers.NewClientHolder(temporalOptions, log)
	holder.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.CustomHTTPErrorHandler
	e.Use(handlers.RequestIDMiddleware)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handlers.RegisterRoutes(e, &handlers.Handler{
		Tenants:    manager,
		Runs:       runs,
		Dispatcher: handlers.NewTemporalDispatcher(holder.Get, cfg.Temporal.TaskQueue),
		Ingester:   ingester,
		Logger:     log,
	}, registry)

	go func() {
		if err := e.Start(cfg.Server.Address); err != nil {
			log.Infof("HTTP server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP shutdown failed: %v", err)
	}
}
