package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config reúne la configuración del servicio leída del entorno
type Config struct {
	Port string

	DBDriver    string
	DatabaseURL string

	CoinGeckoBaseURL       string
	CoinGeckoAPIKey        string
	CoinGeckoRatePerMinute int
	HTTPTimeout            time.Duration

	PriceCacheTTL        time.Duration
	PriceRefreshInterval time.Duration
	PriceCurrencies      []string

	JWTSecret      string
	AdminSecretKey string
	CORSOrigins    []string
	SymbolMapFile  string
}

// Load lee el archivo .env si existe y luego las variables de entorno
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No se pudo cargar el archivo .env: %v", err)
	}
	return FromEnv()
}

// FromEnv arma la configuración sólo a partir de las variables de entorno
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:      getEnv("DATABASE_URL", "database/portfolio.db"),
		CoinGeckoBaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey:  os.Getenv("COINGECKO_API_KEY"),
		PriceCurrencies:  splitList(getEnv("PRICE_CURRENCIES", "usd,brl")),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AdminSecretKey:   os.Getenv("ADMIN_SECRET_KEY"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		SymbolMapFile:    os.Getenv("SYMBOL_MAP_FILE"),
	}

	var err error
	if cfg.CoinGeckoRatePerMinute, err = getInt("COINGECKO_RATE_PER_MINUTE", 30); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.PriceCacheTTL, err = getDuration("PRICE_CACHE_TTL", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.PriceRefreshInterval, err = getDuration("PRICE_REFRESH_INTERVAL", 2*time.Minute); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate revisa que los valores sean utilizables
func (c *Config) Validate() error {
	var errs []error
	if c.DBDriver != "sqlite3" && c.DBDriver != "postgres" {
		errs = append(errs, fmt.Errorf("DB_DRIVER debe ser sqlite3 o postgres, se recibió %q", c.DBDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL es obligatorio"))
	}
	if c.PriceCacheTTL <= 0 {
		errs = append(errs, errors.New("PRICE_CACHE_TTL debe ser positivo"))
	}
	if c.PriceRefreshInterval <= 0 {
		errs = append(errs, errors.New("PRICE_REFRESH_INTERVAL debe ser positivo"))
	}
	if len(c.PriceCurrencies) == 0 {
		errs = append(errs, errors.New("PRICE_CURRENCIES no puede estar vacío"))
	}
	if c.JWTSecret == "" {
		log.Printf("JWT_SECRET no está definido, las rutas protegidas rechazarán todos los tokens")
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s inválido %q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s inválido %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
