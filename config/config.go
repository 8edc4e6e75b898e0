/*
Package config handles loading and validating application configuration
from environment variables. All values have sensible defaults so the
application can start with zero environment setup during local development.
*/
package config

import (
	"log/slog"      // slog = structured log. used for json logging in this app
	"os"            // used .Getenv calls and write logs to stdout.
	"path/filepath" // used to extract file base name form absolute path in logging.
	"strconv"       // parses the numeric/bool env vars added for the preview orchestrator
)

// AppConfig struct holds all configuration values for the application.
// values are read once at startup and passed through the app via dependency injection.
// no global config variable is used. callers receive a *AppConfig explicitly,
// making dependencies visible and the code easier to test.
type AppConfig struct {
	// Port is the TCP port the HTTP server listens on
	Port string

	// the file path to the SQLite metadata store file.
	MetadataStorePath string

	// BaseDomain is the wildcard-DNS suffix every preview hostname is carved out of, eg
	// "previews.example.com" so service "api" of preview "pr-42" owned by "acme" becomes
	// "pr-42-acme.api.previews.example.com".
	BaseDomain string

	// EdgeNetwork is the Docker network name the edge router and all preview containers
	// share -- the renamed/generalized successor of the teacher's TraefikNetwork.
	EdgeNetwork string

	// AllowedOrigin is the single origin the CORS middleware allows to call this API from
	// a browser, eg a dashboard hosted on its own origin.
	AllowedOrigin string

	// RelationalAHost/Port/User/Password address the pooled admin connection used by the
	// relational-A (postgres-style) provisioner to create/drop per-preview databases.
	RelationalAHost     string
	RelationalAPort     string
	RelationalAUser     string
	RelationalAPassword string

	// RelationalBHost/Port/User/Password address the relational-B (mysql-style) admin pool.
	RelationalBHost     string
	RelationalBPort     string
	RelationalBUser     string
	RelationalBPassword string

	// DocumentHost/Port/User/Password address the document-engine admin connection.
	DocumentHost     string
	DocumentPort     string
	DocumentUser     string
	DocumentPassword string

	// IdleTimeoutHours is how long a preview may go without a request before the
	// reconciler's idle-eviction task destroys it.
	IdleTimeoutHours int

	// ReconcileIntervalMinutes is the fixed interval between reconciler ticks.
	ReconcileIntervalMinutes int

	// MaxPreviewsPerOwner is the quota gate's ceiling on active previews per owner.
	// -1 means unlimited.
	MaxPreviewsPerOwner int

	// EnableTLS toggles the cert-resolver and websecure-only labels the edge-router
	// label generator attaches to every preview's ingress route.
	EnableTLS bool

	// PasswordProtectDefault controls whether newly created previews get a bcrypt
	// basic-auth challenge by default when the caller does not specify one explicitly.
	PasswordProtectDefault bool

	// DefaultPreviewPassword is used when PasswordProtectDefault is true and the caller
	// supplied no password of their own.
	DefaultPreviewPassword string

	// TokenSigningSecret signs/validates the bearer tokens the API expects on every
	// preview-management request.
	TokenSigningSecret string

	// WebhookSigningSecret validates the HMAC-SHA256 signature on inbound CI/VCS webhooks.
	WebhookSigningSecret string

	// RedisURL is optional; when empty the access-tracking touch buffer and distributed
	// lock backstop both degrade to in-process-only operation (SPEC_FULL.md §4.5a).
	RedisURL string

	// LogRoot is loaded from LOG_ROOT; no code in this module currently writes files
	// under it.
	LogRoot string

	// LogFormat controls the output format of slog (logging library)
	// accepted values: "text" (default) | "json"
	// set to "json" in production for structured log shipping
	LogFormat string
}

// NewLogger constructs a *slog.Logger based on the LogFormat field of the config.
// "text" produces human-readable output for local development
// any other value (including "json") produces structured JSON output for production
// and Docker log shipping.
// *AppConfig is a pointer receiver rather than a value receiver cuz copying AppConfig struct unnecessary
// returning a pointer *slog.Logger rather than value is standard for complex objects
// like loggers, database connections, or servers. It forces things to use the same logger instance.
func (config *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler // declaration of slog.Handler interface variable to hold the chosen log handler

	// Syntax confusion - `slog.` is the package name, `HandlerOptions` is a struct type defined in slog package.
	// &slog.HandlerOptions{} creates a new instance of HandlerOptions struct and returns its pointer rather than value
	// {} is to initialize the struct's fields
	options := &slog.HandlerOptions{
		// AddSource adds the file name and line number to each log record
		// useful during development to trace log origins.
		AddSource: true, // this returns the absolute file path which is too long and eyesore
		Level:     slog.LevelDebug,

		/* ReplaceAttr is a build-in field (key) that accepts a function, that runs on every log call.

		When the logger processes a log record, the logger checks each attribute (key-value pair)
		like looping through them and runs the ReplaceAttr function on EACH attribute.
		If the function returns a modified attribute, the logger uses that instead of the original.
		`groups []string` is the list of strings if there are nested logs.
		`attribute slog.Attr` is the current attribute being processed.
		`slog.Attr` after the args is the return type
		*/
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			// Check if the current attribute is the "source" (file path/line info)
			if attribute.Key == slog.SourceKey {
				/*
					attribute.Value.Any(): The slog value is wrapped in a special type-safe container.
					This "unwraps" it to see what's inside.
					(*slog.Source) is like type casting in other languages.
				*/
				source := attribute.Value.Any().(*slog.Source)
				// This takes the file's absolute path and just returns the filename
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options) // text for local dev
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options) // json for prod
	}

	// returns new logger with chosen handler
	return slog.New(handler)
}

// LoadAppConfig reads configuration from environment variables and RETURNS a populated AppConfig struct.
// missing environment variables fall back to safe local development defaults
// so the app can run without any setup during early development.
// TODO: to move on from hard coded and actually make a external file to load the config data
func LoadAppConfig() *AppConfig {
	// create a new AppConfig struct with values loaded from environment variables or defaults
	// returns pointer to AppConfig struct created
	return &AppConfig{
		Port:              getEnv("PORT", "8080"),
		MetadataStorePath: getEnv("METADATA_STORE_PATH", "./previewd.db"),
		BaseDomain:        getEnv("BASE_DOMAIN", "previews.localhost"),
		EdgeNetwork:       getEnv("EDGE_NETWORK", "previewd-edge"),
		AllowedOrigin:     getEnv("ALLOWED_ORIGIN", "*"),

		RelationalAHost:     getEnv("RELATIONAL_A_HOST", "localhost"),
		RelationalAPort:     getEnv("RELATIONAL_A_PORT", "5432"),
		RelationalAUser:     getEnv("RELATIONAL_A_USER", "postgres"),
		RelationalAPassword: getEnv("RELATIONAL_A_PASSWORD", ""),

		RelationalBHost:     getEnv("RELATIONAL_B_HOST", "localhost"),
		RelationalBPort:     getEnv("RELATIONAL_B_PORT", "3306"),
		RelationalBUser:     getEnv("RELATIONAL_B_USER", "root"),
		RelationalBPassword: getEnv("RELATIONAL_B_PASSWORD", ""),

		DocumentHost:     getEnv("DOCUMENT_HOST", "localhost"),
		DocumentPort:     getEnv("DOCUMENT_PORT", "27017"),
		DocumentUser:     getEnv("DOCUMENT_USER", ""),
		DocumentPassword: getEnv("DOCUMENT_PASSWORD", ""),

		IdleTimeoutHours:         getEnvInt("IDLE_TIMEOUT_HOURS", 48),
		ReconcileIntervalMinutes: getEnvInt("RECONCILE_INTERVAL_MINUTES", 30),
		MaxPreviewsPerOwner:      getEnvInt("MAX_PREVIEWS_PER_OWNER", 10),

		EnableTLS:              getEnvBool("ENABLE_TLS", false),
		PasswordProtectDefault: getEnvBool("PASSWORD_PROTECT_DEFAULT", false),
		DefaultPreviewPassword: getEnv("DEFAULT_PREVIEW_PASSWORD", "preview"),

		TokenSigningSecret:   getEnv("TOKEN_SIGNING_SECRET", "dev-secret-change-me"),
		WebhookSigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", "dev-webhook-secret-change-me"),
		RedisURL:             getEnv("REDIS_URL", ""),

		LogRoot:   getEnv("LOG_ROOT", "./data/logs"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// getEnv retrieves the value of an environment variable by key.
// if the variable is not set or is empty, the provided fallback value is returned.
// this avoids scattered os.Getenv calls with inline fallback logic throughout the codebase.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}

// getEnvInt parses an integer-valued environment variable, falling back (and logging
// nothing -- this runs before the logger exists) to fallbackValue on any parse failure.
func getEnvInt(key string, fallbackValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallbackValue
	}
	return parsed
}

// getEnvBool parses a boolean-valued environment variable ("true"/"false"/"1"/"0"/etc,
// per strconv.ParseBool), falling back to fallbackValue on any parse failure.
func getEnvBool(key string, fallbackValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallbackValue
	}
	return parsed
}
