package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"afflink-system/config"
	"afflink-system/internal/database"
	"afflink-system/internal/gateway/clients"
	"afflink-system/internal/gateway/handlers"
	"afflink-system/internal/gateway/middleware"
	"afflink-system/internal/services/audit"
	ledger "afflink-system/internal/services/ledger/handler"
	payouts "afflink-system/internal/services/payouts/handler"
	"afflink-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetJWTSecret(cfg.JWTSecret)

	db, err := database.NewConnection(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)

	auditRec := audit.NewRecorder(db)
	ledgerHandler := ledger.NewLedgerHandler(db, redisClient, auditRec, cfg.Ledger)
	gatewayClient := clients.NewPaymentGatewayClient(cfg.Gateway)
	payoutHandler := payouts.NewPayoutHandler(db, ledgerHandler, gatewayClient, auditRec, cfg.Payout)

	ledgerHTTP := handlers.NewLedgerHTTPHandler(ledgerHandler)
	payoutHTTP := handlers.NewPayoutHTTPHandler(payoutHandler)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit("60-M"))

	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		conversions := protected.Group("/conversions")
		conversions.Use(middleware.AdminOnly())
		{
			conversions.POST("", ledgerHTTP.RecordConversion)
		}

		commissions := protected.Group("/commissions")
		{
			commissions.GET("", ledgerHTTP.ListCommissions)
			commissions.GET("/:id", ledgerHTTP.GetCommission)

			admin := commissions.Group("")
			admin.Use(middleware.AdminOnly())
			{
				admin.PATCH("/:id/status", ledgerHTTP.UpdateCommissionStatus)
				admin.POST("/:id/adjustments", ledgerHTTP.AddAdjustment)
				admin.POST("/:id/clawback", ledgerHTTP.ApplyClawback)
				admin.POST("/:id/recalculate", ledgerHTTP.RecalculateCommission)
			}
		}

		marketers := protected.Group("/marketers")
		{
			marketers.GET("/:id/balance", ledgerHTTP.GetBalance)
		}

		paymentMethods := protected.Group("/payment-methods")
		{
			paymentMethods.POST("", payoutHTTP.CreatePaymentMethod)
			paymentMethods.GET("", payoutHTTP.ListPaymentMethods)
			paymentMethods.POST("/:id/verify", middleware.AdminOnly(), payoutHTTP.VerifyPaymentMethod)
		}

		payoutGroup := protected.Group("/payouts")
		{
			payoutGroup.POST("", payoutHTTP.CreatePayout)
			payoutGroup.GET("", payoutHTTP.ListPayouts)
			payoutGroup.GET("/:id", payoutHTTP.GetPayout)
			payoutGroup.POST("/:id/cancel", payoutHTTP.CancelPayout)

			admin := payoutGroup.Group("")
			admin.Use(middleware.AdminOnly())
			{
				admin.PATCH("/:id/status", payoutHTTP.UpdatePayoutStatus)
				admin.POST("/:id/process", payoutHTTP.ProcessPayout)
				admin.POST("/bulk-process", payoutHTTP.ProcessBulkPayouts)
			}
		}

		analytics := protected.Group("/analytics")
		analytics.Use(middleware.AdminOnly())
		{
			analytics.GET("/clawbacks", ledgerHTTP.GetClawbackAnalytics)
		}
	}

	r.GET("/health", healthCheckHandler())

	addr := ":" + cfg.Port
	log.Printf("Starting server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	}
}
