package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/controllers"
	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/cache"
	"github.com/verigate/verigate/internal/pkg/database"
	"github.com/verigate/verigate/internal/pkg/dispatch"
	"github.com/verigate/verigate/internal/pkg/docrender"
	"github.com/verigate/verigate/internal/pkg/docstore"
	"github.com/verigate/verigate/internal/pkg/env"
	"github.com/verigate/verigate/internal/pkg/invoicing"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/pricing"
	"github.com/verigate/verigate/internal/pkg/router"
	"github.com/verigate/verigate/internal/pkg/verification"
)

func main() {
	app, dispatcher := NewApplication()

	// graceful shutdown: drain webhook workers before the listener closes
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		dispatcher.Stop()
		if err := app.Shutdown(); err != nil {
			log.Errorf("shutdown failed: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *dispatch.Dispatcher) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	ensureAdmin(db)

	workers, err := strconv.Atoi(env.GetEnv("WEBHOOK_WORKER_COUNT", "3"))
	if err != nil || workers < 1 {
		workers = 3
	}
	dispatcher := dispatch.NewDispatcher(workers, dispatch.NewBookkeeper(db))
	dispatcher.Start()

	var docs docstore.Store
	if cfg, err := docstore.LoadConfig(); err != nil {
		log.Warnf("document store disabled: %v", err)
	} else if cfg.IsEnabled() {
		client, err := docstore.NewClient(cfg)
		if err != nil {
			log.Warnf("document store disabled: %v", err)
		} else {
			docs = client
		}
	}

	controllers.SetupServices(controllers.Services{
		Verification: verification.NewServiceFromDB(db, docs, dispatcher),
		Invoicing:    invoicing.NewServiceFromDB(db, docrender.NewRendererFromEnv()),
		Ledger:       ledger.NewServiceFromDB(db),
		Pricing:      pricing.NewServiceFromDB(db),
		Dispatcher:   dispatcher,
	})

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app, dispatcher
}

// ensureAdmin bootstraps the first operator account from the environment.
// The API token is printed once at creation and never stored in the clear.
func ensureAdmin(db *gorm.DB) {
	var admin models.Admin
	err := db.First(&admin).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("admin bootstrap check failed: %v", err)
		return
	}

	name := env.GetEnv("ADMIN_NAME", "")
	email := env.GetEnv("ADMIN_EMAIL", "")
	password := env.GetEnv("ADMIN_PASSWORD", "")
	if name == "" || email == "" || password == "" {
		log.Warn("no admin account exists and ADMIN_NAME/ADMIN_EMAIL/ADMIN_PASSWORD are unset; admin API is unusable")
		return
	}

	created, rawToken, err := models.CreateAdmin(name, email, password)
	if err != nil {
		log.Errorf("admin bootstrap failed: %v", err)
		return
	}
	if err := db.Create(created).Error; err != nil {
		log.Errorf("admin bootstrap failed: %v", err)
		return
	}
	log.Infof("created admin %s; API token (shown once): %s", created.Email, rawToken)
}
