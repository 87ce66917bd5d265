package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kivapay/backend/docs"
	"github.com/kivapay/backend/internal/database"
	"github.com/kivapay/backend/internal/handlers"
	mW "github.com/kivapay/backend/internal/middleware"
	"github.com/kivapay/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title KivaPay Backend API
// @version 1.0
// @description API for the KivaPay mobile money ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "KivaPay Backend API"
	docs.SwaggerInfo.Description = "API for the KivaPay mobile money ledger"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	notificationService := services.NewNotificationService(redisClient)
	reauthService := services.NewReauthService(db, redisClient)
	settlementService := services.NewSettlementService(viper.GetString("settlement.bic"))
	commandService := services.NewVaultCommandService(db, redisClient)
	codeService := services.NewShareCodeService(redisClient)

	authService := services.NewAuthService(db, redisClient)
	transferService := services.NewTransferService(db, ledgerService, reauthService, settlementService, notificationService)
	vaultService := services.NewVaultService(db, ledgerService, commandService, reauthService)
	sharedVaultService := services.NewSharedVaultService(db, ledgerService, reauthService, notificationService)
	methodService := services.NewPaymentMethodService(db)
	requestService := services.NewPaymentRequestService(db, ledgerService, notificationService)
	requestHandler := handlers.NewPaymentRequestHandler(requestService, codeService, reauthService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Money movement
			r.Post("/transfers", transferService.Transfer)
			r.Get("/transactions", transferService.ListTransactions)
			r.Get("/transactions/recent", transferService.GetRecentTransactions)

			// Vaults and the async command queue
			r.Post("/vaults", vaultService.CreateVault)
			r.Get("/vaults", vaultService.ListVaults)
			r.Get("/vaults/{vaultId}", vaultService.GetVault)
			r.Delete("/vaults/{vaultId}", vaultService.DeleteVault)
			r.Post("/vaults/{vaultId}/commands", vaultService.SubmitCommand)
			r.Get("/vault-commands/{commandId}", vaultService.GetCommand)
			r.Get("/vault-commands/{commandId}/await", vaultService.AwaitCommand)

			// Shared vaults
			r.Post("/shared-vaults", sharedVaultService.CreateSharedVault)
			r.Get("/shared-vaults", sharedVaultService.ListSharedVaults)
			r.Post("/shared-vaults/{vaultId}/deposits", sharedVaultService.Deposit)
			r.Get("/shared-vaults/{vaultId}/transactions", sharedVaultService.ListContributions)
			r.Post("/shared-vaults/{vaultId}/members", sharedVaultService.AddMember)
			r.Get("/shared-vaults/{vaultId}/members", sharedVaultService.ListMembers)

			// Payment requests
			r.Post("/payment-requests", requestHandler.CreateRequest)
			r.Get("/payment-requests", requestHandler.ListRequests)
			r.Post("/payment-requests/redeem", requestHandler.RedeemCode)
			r.Get("/payment-requests/{requestId}", requestHandler.GetRequest)
			r.Post("/payment-requests/{requestId}/accept", requestHandler.AcceptRequest)
			r.Post("/payment-requests/{requestId}/decline", requestHandler.DeclineRequest)
			r.Get("/payment-requests/{requestId}/qr", requestHandler.GenerateQR)
			r.Post("/payment-requests/{requestId}/code", requestHandler.IssueCode)

			// Payment methods
			r.Post("/payment-methods", methodService.LinkMethod)
			r.Get("/payment-methods", methodService.ListMethods)
			r.Get("/payment-methods/{accountId}", methodService.GetMethod)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server. WriteTimeout must outlast the 30s command await
	// long-poll.
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
