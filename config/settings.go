package config

import (
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/mmdatafocus/pathway_backend/utils"
)

const (
	LedgerBackendMemory = "memory"
	LedgerBackendMySQL  = "mysql"

	ReportStoreMemory = "memory"
	ReportStoreRedis  = "redis"

	defaultPort            = "8080"
	defaultEntitlementTTL  = 24 * 365 // hours
	defaultProviderTimeout = 15       // seconds
)

type LemonSqueezySettings struct {
	APIKey     string
	StoreID    string
	VariantID  string
	BaseURL    string
	Currencies []string
}

type CryptoSettings struct {
	APIKey     string
	BaseURL    string
	Currencies []string
}

type DatabaseSettings struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type RateLimitSettings struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

// Settings is the process configuration, read once at startup.
type Settings struct {
	Production bool
	Port       string

	EntitlementSecret string
	EntitlementTTL    time.Duration

	WebhookSecret         string
	RequireSignatureInDev bool
	DefaultProvider       string
	ReportPrice           string
	ProviderTimeout       time.Duration
	LemonSqueezy          LemonSqueezySettings
	Crypto                CryptoSettings
	BetaAccessCode        string
	CouponCodes           []string
	LedgerBackend         string
	SkipMigrations        bool
	Database              DatabaseSettings
	ReportStore           string
	ReportTTL             time.Duration
	PDFFontPath           string
	RedisAddress          string
	PubSubProjectID       string
	PubSubTopic           string
	PubSubCredentialsJSON string
	CORSAllowedOrigins    []string
	RateLimit             RateLimitSettings
}

// LoadSettings reads .env (when present) and the process environment.
func LoadSettings() *Settings {
	godotenv.Load()

	return &Settings{
		Production: IsProductionMode(),
		Port:       stringFromEnv(defaultPort, "API_PORT", "PORT"),

		EntitlementSecret: stringFromEnv("", "ENTITLEMENT_SECRET", "API_SECRET"),
		EntitlementTTL:    time.Duration(intFromEnv("ENTITLEMENT_TTL_HOURS", defaultEntitlementTTL)) * time.Hour,

		WebhookSecret:         stringFromEnv("", "WEBHOOK_SECRET"),
		RequireSignatureInDev: RequireWebhookSignatureInDev(),
		DefaultProvider:       strings.ToLower(stringFromEnv("lemonsqueezy", "DEFAULT_PAYMENT_PROVIDER")),
		ReportPrice:           stringFromEnv("", "REPORT_PRICE"),
		ProviderTimeout:       time.Duration(intFromEnv("PROVIDER_TIMEOUT_SECONDS", defaultProviderTimeout)) * time.Second,
		LemonSqueezy: LemonSqueezySettings{
			APIKey:     stringFromEnv("", "LEMONSQUEEZY_API_KEY"),
			StoreID:    stringFromEnv("", "LEMONSQUEEZY_STORE_ID"),
			VariantID:  stringFromEnv("", "LEMONSQUEEZY_VARIANT_ID"),
			BaseURL:    stringFromEnv("https://api.lemonsqueezy.com", "LEMONSQUEEZY_API_BASE_URL"),
			Currencies: utils.SplitAndTrim(stringFromEnv("USD", "LEMONSQUEEZY_CURRENCIES")),
		},
		Crypto: CryptoSettings{
			APIKey:     stringFromEnv("", "CRYPTO_API_KEY"),
			BaseURL:    stringFromEnv("https://api.commerce.coinbase.com", "CRYPTO_API_BASE_URL"),
			Currencies: utils.SplitAndTrim(stringFromEnv("USD,USDC", "CRYPTO_CURRENCIES")),
		},
		BetaAccessCode: stringFromEnv("", "BETA_ACCESS_CODE_HASH", "BETA_ACCESS_CODE"),
		CouponCodes:    utils.SplitAndTrim(stringFromEnv("", "COUPON_CODES")),
		LedgerBackend:  strings.ToLower(stringFromEnv(LedgerBackendMemory, "LEDGER_BACKEND")),
		SkipMigrations: boolFromEnv("SKIP_MIGRATIONS"),
		Database: DatabaseSettings{
			User:     stringFromEnv("", "DB_USER"),
			Password: stringFromEnv("", "DB_PASSWORD"),
			Host:     stringFromEnv("", "DB_HOST"),
			Port:     stringFromEnv("3306", "DB_PORT"),
			Name:     stringFromEnv("", "DB_NAME"),
		},
		ReportStore:           strings.ToLower(stringFromEnv(ReportStoreMemory, "REPORT_STORE")),
		ReportTTL:             time.Duration(intFromEnv("REPORT_TTL_HOURS", 24*30)) * time.Hour,
		PDFFontPath:           stringFromEnv("", "PDF_FONT_PATH"),
		RedisAddress:          stringFromEnv("", "REDIS_ADDRESS"),
		PubSubProjectID:       stringFromEnv("", "PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		PubSubTopic:           stringFromEnv("", "PUBSUB_TOPIC"),
		PubSubCredentialsJSON: stringFromEnv("", "PUBSUB_CREDENTIALS_JSON"),
		CORSAllowedOrigins:    utils.SplitAndTrim(stringFromEnv("", "CORS_ALLOWED_ORIGINS")),
		RateLimit: RateLimitSettings{
			Enabled:     boolFromEnv("RATE_LIMIT_ENABLED"),
			MaxRequests: intFromEnv("RATE_LIMIT_MAX_REQUESTS", 60),
			Window:      time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
	}
}

// Validate fails closed in production when a signing secret is missing.
// The returned error names the missing settings, never their values.
func (s *Settings) Validate() error {
	if s.LedgerBackend != LedgerBackendMemory && s.LedgerBackend != LedgerBackendMySQL {
		return utils.NewConfigurationError("unsupported LEDGER_BACKEND " + s.LedgerBackend)
	}
	if s.ReportStore != ReportStoreMemory && s.ReportStore != ReportStoreRedis {
		return utils.NewConfigurationError("unsupported REPORT_STORE " + s.ReportStore)
	}

	var missing []string
	if s.Production && s.EntitlementSecret == "" {
		missing = append(missing, "ENTITLEMENT_SECRET")
	}
	if (s.Production || s.RequireSignatureInDev) && s.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if s.ReportStore == ReportStoreRedis && s.RedisAddress == "" {
		missing = append(missing, "REDIS_ADDRESS")
	}
	if s.LedgerBackend == LedgerBackendMySQL && (s.Database.Host == "" || s.Database.Name == "") {
		missing = append(missing, "DB_HOST", "DB_NAME")
	}
	if len(missing) > 0 {
		return utils.NewConfigurationError("missing required settings: " + strings.Join(missing, ", "))
	}
	return nil
}

// MySQLDSN builds the go-sql-driver DSN. Cloud SQL unix sockets are supported via DB_HOST=/cloudsql/<name>.
func (d DatabaseSettings) MySQLDSN() string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Net = "tcp"
	cfg.Addr = d.Host + ":" + d.Port
	if strings.HasPrefix(d.Host, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = d.Host
	}
	return cfg.FormatDSN()
}
