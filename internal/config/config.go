package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Store     StoreConfig
	Integrity IntegrityConfig
	Alert     AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type StoreConfig struct {
	// RedisURL selects the Redis TTL store. Empty falls back to the
	// in-memory store, which is only acceptable for a single node.
	RedisURL string
}

// IdentityFallback selects the identity proxy for anonymous voting.
type IdentityFallback string

const (
	// FallbackFingerprint keys anonymous dedup on the composite device
	// fingerprint hash alone.
	FallbackFingerprint IdentityFallback = "fingerprint"
	// FallbackFingerprintIP combines fingerprint and IP hashes; stricter,
	// but penalizes households behind one NAT.
	FallbackFingerprintIP IdentityFallback = "fingerprint_ip"
)

type IntegrityConfig struct {
	HashSecret         string
	EncryptionMaster   string
	LookupSaltSecret   string
	StandbyEncryption  string // optional; presence enables key rotation
	AttemptTokenSecret string
	AttemptTokenTTL    time.Duration

	RotationTargetVersion int
	RotationInterval      time.Duration

	RateLimitCap    int
	RateLimitWindow time.Duration
	DedupTTL        time.Duration
	DedupTTLMax     time.Duration

	ChallengeSessionTTL time.Duration
	ChallengeMaxRetries int

	AssessTimeout time.Duration

	// CaptchaVerifyURL empty selects the development stub verifier.
	CaptchaVerifyURL string
	CaptchaSecret    string

	BandMedium   float64
	BandHigh     float64
	BandCritical float64

	IdentityFallback IdentityFallback
}

type AlertConfig struct {
	AWSRegion   string
	FromAddress string
	ToAddress   string // empty disables the SES operator alert path
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	hashSecret := getEnv("HASH_SECRET", "")
	encryptionMaster := getEnv("ENCRYPTION_MASTER_KEY", "")
	lookupSalt := getEnv("LOOKUP_HASH_SALT", "")
	tokenSecret := getEnv("ATTEMPT_TOKEN_SECRET", "")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "voteguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Store: StoreConfig{
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Integrity: IntegrityConfig{
			HashSecret:         hashSecret,
			EncryptionMaster:   encryptionMaster,
			LookupSaltSecret:   lookupSalt,
			StandbyEncryption:  getEnv("ENCRYPTION_STANDBY_KEY", ""),
			AttemptTokenSecret: tokenSecret,
			AttemptTokenTTL:    getEnvAsDuration("ATTEMPT_TOKEN_TTL", 15*time.Minute),

			RotationTargetVersion: getEnvAsInt("KEY_ROTATION_TARGET_VERSION", 2),
			RotationInterval:      getEnvAsDuration("KEY_ROTATION_INTERVAL", 1*time.Hour),

			RateLimitCap:    getEnvAsInt("VOTE_RATE_LIMIT_CAP", 30),
			RateLimitWindow: getEnvAsDuration("VOTE_RATE_LIMIT_WINDOW", 1*time.Hour),
			DedupTTL:        getEnvAsDuration("VOTE_DEDUP_TTL", 24*time.Hour),
			DedupTTLMax:     getEnvAsDuration("VOTE_DEDUP_TTL_MAX", 30*24*time.Hour),

			ChallengeSessionTTL: getEnvAsDuration("CHALLENGE_SESSION_TTL", 30*time.Minute),
			ChallengeMaxRetries: getEnvAsInt("CHALLENGE_MAX_RETRIES", 3),

			AssessTimeout: getEnvAsDuration("ASSESS_TIMEOUT", 250*time.Millisecond),

			CaptchaVerifyURL: getEnv("CAPTCHA_VERIFY_URL", ""),
			CaptchaSecret:    getEnv("CAPTCHA_SECRET", ""),

			BandMedium:   getEnvAsFloat("RISK_BAND_MEDIUM", 25),
			BandHigh:     getEnvAsFloat("RISK_BAND_HIGH", 50),
			BandCritical: getEnvAsFloat("RISK_BAND_CRITICAL", 80),

			IdentityFallback: IdentityFallback(getEnv("IDENTITY_FALLBACK", string(FallbackFingerprint))),
		},
		Alert: AlertConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			ToAddress:   getEnv("ALERT_TO_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Missing or weak secrets are a fatal configuration error: the
	// process refuses to serve vote traffic rather than run with a
	// guessable identity-hash secret.
	for name, secret := range map[string]string{
		"HASH_SECRET":           hashSecret,
		"ENCRYPTION_MASTER_KEY": encryptionMaster,
		"LOOKUP_HASH_SALT":      lookupSalt,
		"ATTEMPT_TOKEN_SECRET":  tokenSecret,
	} {
		if err := validateSecret(name, secret, env); err != nil {
			return nil, err
		}
	}

	// Rotation preserves lookup hashes only if the salt is independent
	// of the encryption key.
	if cfg.Integrity.LookupSaltSecret == cfg.Integrity.EncryptionMaster {
		return nil, fmt.Errorf("LOOKUP_HASH_SALT must differ from ENCRYPTION_MASTER_KEY")
	}

	switch cfg.Integrity.IdentityFallback {
	case FallbackFingerprint, FallbackFingerprintIP:
	default:
		return nil, fmt.Errorf("IDENTITY_FALLBACK must be %q or %q", FallbackFingerprint, FallbackFingerprintIP)
	}

	if !(cfg.Integrity.BandMedium < cfg.Integrity.BandHigh && cfg.Integrity.BandHigh < cfg.Integrity.BandCritical) {
		return nil, fmt.Errorf("risk band thresholds must be strictly increasing")
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for integrity secrets
func validateSecret(name, secret, env string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		return splitAndTrim(originsStr)
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
