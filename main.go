package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"xp-tournaments/config"
	"xp-tournaments/database"
	"xp-tournaments/handlers"
	"xp-tournaments/middleware"
	"xp-tournaments/services"
	"xp-tournaments/telemetry"
	"xp-tournaments/utils"
	"xp-tournaments/workers"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "xp-tournaments",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OtelEndpoint,
		Enabled:        cfg.OtelEnabled,
		SampleRatio:    cfg.OtelSampleRatio,
	})
	if err != nil {
		log.Printf("⚠️  Tracing disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal(err)
	}

	ledger := services.NewTokenLedger(db)
	if err := ledger.BootstrapTreasury(cfg.PrimaryToken(), cfg.TreasuryAddress, cfg.TreasuryInitialSupply); err != nil {
		log.Fatal("failed to bootstrap treasury: ", err)
	}
	owners := services.NewOwnershipRegistry(db)
	escrow := services.NewEscrowService(db, ledger, owners, cfg.EscrowAddress, cfg.FundingTokens)
	auditor := services.NewCustodyAuditor(db, ledger, escrow)

	auditWorker := workers.NewCustodyAuditWorker(auditor, cfg.CustodyAuditInterval)
	auditWorker.Start(ctx)

	var receiptScheduler gocron.Scheduler
	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Settings{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
			CDNBaseURL:      cfg.R2.CDNBaseURL,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		receiptScheduler, err = services.NewReceiptArchiver(db, store).StartReceiptScheduler(cfg.ReceiptInterval)
		if err != nil {
			log.Fatal("failed to start receipt scheduler: ", err)
		}
		log.Printf("✅ Settlement receipts archived to R2 bucket %s every %s", cfg.R2.Bucket, cfg.ReceiptInterval)
	} else {
		log.Println("⚠️  R2 not configured, settlement receipts are not archived")
	}

	app := fiber.New(fiber.Config{
		AppName:   "xp-tournaments",
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Wallet-Address, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(middleware.CallerContextMiddleware())

	handlers.SetupTournamentRoutes(app, handlers.NewTournamentHandler(escrow, owners))
	handlers.SetupTokenRoutes(app, handlers.NewTokenHandler(ledger))
	handlers.SetupAdminRoutes(app, handlers.NewAdminHandler(ledger, auditor, auditWorker))

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%d", cfg.Port)
	log.Printf("✅ Escrow address %s, funding tokens %v", cfg.EscrowAddress, cfg.FundingTokens)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")

	if receiptScheduler != nil {
		if err := receiptScheduler.Shutdown(); err != nil {
			log.Printf("receipt scheduler shutdown: %v", err)
		}
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
