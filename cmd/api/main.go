package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/config"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/database"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/middleware"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/portfolio"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/repository"
	routes "github.com/AgusMolinaCode/DCA_Portfolio/internal/server"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Cargar configuración (.env + variables de entorno)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error en la configuración: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inicializar base de datos
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Error al inicializar la base de datos: %v", err)
	}
	defer db.Close()

	resolver, err := services.LoadSymbolResolver(cfg.SymbolMapFile)
	if err != nil {
		log.Fatalf("Error al cargar el mapa de símbolos: %v", err)
	}

	coingecko := services.NewCoinGeckoClient(
		services.WithCoinGeckoBaseURL(cfg.CoinGeckoBaseURL),
		services.WithCoinGeckoAPIKey(cfg.CoinGeckoAPIKey),
		services.WithCoinGeckoRateLimit(cfg.CoinGeckoRatePerMinute),
		services.WithCoinGeckoHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)

	// Caché de precios y actualizador compartidos por todo el proceso
	priceCache := services.NewPriceCache(coingecko, services.WithPriceCacheTTL(cfg.PriceCacheTTL))
	priceUpdater := services.NewPriceUpdater(priceCache, cfg.PriceRefreshInterval, cfg.PriceCurrencies)
	priceUpdater.Start()
	defer priceUpdater.Stop()

	sessions := portfolio.NewSessions(portfolio.Deps{
		Store:      repository.NewTransactionRepository(db),
		Prices:     priceCache,
		Series:     portfolio.NewReconstructor(resolver, coingecko, portfolio.WithIntradayFeed(coingecko)),
		Resolver:   resolver,
		Currencies: cfg.PriceCurrencies,
	}, priceUpdater)
	defer sessions.CloseAll()

	// Crear el router de Gin
	router := gin.Default()

	// Configurar CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Admin-Key"}
	corsConfig.AllowCredentials = true
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	handler := middleware.NewHandler(sessions, priceCache, priceUpdater, cfg.CORSOrigins)
	routes.RegisterRoutes(router, handler, cfg.JWTSecret, cfg.AdminSecretKey)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Servidor escuchando en :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error al iniciar el servidor: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Apagando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error al apagar el servidor: %v", err)
	}
}
