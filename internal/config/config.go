package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (dev, test, prod)
	Port           string // HTTP port to listen on
	DBUser         string
	DBPass         string // may be empty
	DBHost         string
	DBPort         string
	DBName         string
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token lifetime in minutes
	RefreshTTLDays int    // refresh token lifetime in days
	BcryptCost     int

	// EncryptionKey keys the national id cipher; NationalIDIndexKey keys its
	// blind index and falls back to EncryptionKey.
	EncryptionKey      string
	NationalIDIndexKey string

	// Bootstrap admin, created at startup when no admin exists.
	AdminEmail    string
	AdminPassword string
	AdminName     string

	// Initial reservation window, written once when the settings row is
	// missing.
	ReservationOpenAt time.Time
	ReservationOpen   bool

	// RabbitURL empty disables event publishing.
	RabbitURL   string
	EventsQueue string

	// Per-room lease held in Redis during allocation writes.
	LeaseTTL  time.Duration
	LeaseWait time.Duration
}

// Load reads configuration values from environment variables. Required
// variables are enforced by must() and missing values stop the process.
func Load() Config {
	q := LoadQueueConfig()
	return Config{
		Env:            envStr("APP_ENV", "dev"),
		Port:           envStr("APP_PORT", "8080"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         envStr("DB_PORT", "3306"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 10),

		EncryptionKey:      envStr("ENCRYPTION_KEY", "default-encryption-key-for-ssn-2024"),
		NationalIDIndexKey: os.Getenv("NATIONAL_ID_INDEX_KEY"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     envStr("ADMIN_NAME", "Administrator"),

		ReservationOpenAt: envTime("RESERVATION_OPEN_AT", defaultOpenAt(time.Now().UTC())),
		ReservationOpen:   envBool("RESERVATION_OPEN", false),

		RabbitURL:   q.URL,
		EventsQueue: q.Queue,

		LeaseTTL:  envDur("ROOM_LEASE_TTL", 10*time.Second),
		LeaseWait: envDur("ROOM_LEASE_WAIT", 2*time.Second),
	}
}

// defaultOpenAt is midnight UTC of the day after now.
func defaultOpenAt(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
