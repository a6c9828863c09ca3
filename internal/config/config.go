package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig mirrors pkg/db.Config's shape without importing it, so
// pkg/db.Dialect (which takes a DBConfig-shaped value per connection)
// never needs to import this package back.
type DBConfig struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Config holds the process's environment-derived configuration, built up
// through a set of getenv*-helper functions in internal/config.
type Config struct {
	AppName      string
	AppVersion   string
	Mode         string
	Environment  string
	DisplayTZ    string
	InstanceID   string

	AuthCookieSecure            bool
	DefaultOrgID                int64
	AuthJWTSecret               string
	PaymentProviderConfigSecret string
	OAuth2ClientID              string
	OAuth2ClientSecret          string

	Cloud     CloudConfig
	Bootstrap BootstrapConfig

	GeminiAPIKey   string
	GeminiModel    string
	ReportingSalt  string

	SMTP  SMTPConfig
	Redis RedisConfig

	Operations   DBConfig
	Confidential DBConfig

	AllocLockWaitMs   int
	AIOracleTimeout   time.Duration
	MailSendTimeout   time.Duration
	AttachmentCapMiB  int64

	ReceiptProcessorInterval time.Duration
	WatchdogInterval         time.Duration
	DailySweepLocal          string // HH:MM, local to DisplayTZ

	APIKeyHeader string

	BlobStoreRoot string
	AdminEmail    string

	// Subscription engine tunables.
	ReminderDaysSinceDue    []int
	MaxReminders            int
	OverdueThresholdDays    int
	LapsedThresholdDays     int
	InstallmentMissedDays   int
	MonthlyBatchDay         int
	DefaultStudentAllocation int64

	// PledgeAmounts is the duration -> committed amount lookup, e.g.
	// {"Month": 25000, "Semester": 150000, "Year": 300000,
	// "Four Years": 1200000}.
	PledgeAmounts map[string]int64
	ChapterLeads  map[string]string
	AlwaysCC      []string

	// InternalSenderDomains are hostel/UAO mail domains. The receipt
	// processor treats a thread as the watchdog's to own, not its own,
	// once a reply arrives from one of these.
	InternalSenderDomains []string

	ReceiptsLabelToProcess string
	ReceiptsLabelProcessed string
	DonorQueryLabel        string
	ManualReviewLabel      string
	WatchdogManualReviewLabel string
	WatchdogProcessedLabel string
	WatchdogInboundLabel   string
}

type CloudConfig struct {
	OrganizationID   string
	OrganizationName string
	Metrics          CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

type BootstrapConfig struct {
	EnsureDefaultOrgAndUser bool
	AllowSignUp             bool
	AllowAssignOrg          bool
	AllowAssignUserRole     string
	AutoAssignOrgID         string
	AutoAssignOrgRole       string
}

const (
	ModeOSS   = "oss"
	ModeCloud = "cloud"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == ModeCloud {
		return ModeCloud
	}
	return ModeOSS
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	ops := DBConfig{
		Type:     getenv("OPS_DB_TYPE", "postgres"),
		Host:     getenv("OPS_DB_HOST", "localhost"),
		Port:     getenv("OPS_DB_PORT", "5432"),
		Name:     getenv("OPS_DB_NAME", "pledgeflow"),
		User:     getenv("OPS_DB_USER", "postgres"),
		Password: getenv("OPS_DB_PASSWORD", ""),
		SSLMode:  getenv("OPS_DB_SSL_MODE", "disable"),
	}
	confidential := DBConfig{
		Type:     getenv("CONFIDENTIAL_DB_TYPE", ops.Type),
		Host:     getenv("CONFIDENTIAL_DB_HOST", ops.Host),
		Port:     getenv("CONFIDENTIAL_DB_PORT", ops.Port),
		Name:     getenv("CONFIDENTIAL_DB_NAME", "pledgeflow_confidential"),
		User:     getenv("CONFIDENTIAL_DB_USER", ops.User),
		Password: getenv("CONFIDENTIAL_DB_PASSWORD", ops.Password),
		SSLMode:  getenv("CONFIDENTIAL_DB_SSL_MODE", ops.SSLMode),
	}

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	return Config{
		AppName:      getenv("APP_SERVICE", "pledgeflow-reconciler"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Mode:         normalizeMode(getenv("APP_MODE", ModeOSS)),
		Environment:  environment,
		DisplayTZ:    getenv("DISPLAY_TIMEZONE", "Asia/Karachi"),
		InstanceID:   getenv("INSTANCE_ID", ""),

		AuthCookieSecure:            authCookieSecure,
		DefaultOrgID:                getenvInt64("DEFAULT_ORG", 0),
		AuthJWTSecret:               strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		PaymentProviderConfigSecret: strings.TrimSpace(getenv("PAYMENT_PROVIDER_CONFIG_SECRET", "")),
		OAuth2ClientID:              strings.TrimSpace(getenv("OAUTH2_CLIENT_ID", "")),
		OAuth2ClientSecret:          strings.TrimSpace(getenv("OAUTH2_CLIENT_SECRET", "")),

		Cloud: CloudConfig{
			OrganizationID:   strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			OrganizationName: getenv("CLOUD_ORGANIZATION_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		Bootstrap: BootstrapConfig{
			EnsureDefaultOrgAndUser: getenvBool("ENSURE_DEFAULT_ORG_AND_USER", false),
			AllowSignUp:             getenvBool("ALLOW_SIGNUP", false),
			AllowAssignOrg:          getenvBool("ALLOW_ASSIGN_ORG", false),
			AllowAssignUserRole:     strings.TrimSpace(getenv("ALLOW_ASSIGN_USER_ROLE", "")),
			AutoAssignOrgID:         strings.TrimSpace(getenv("AUTO_ASSIGN_ORG_ID", "")),
			AutoAssignOrgRole:       strings.TrimSpace(getenv("AUTO_ASSIGN_ORG_ROLE", "")),
		},

		GeminiAPIKey:  strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
		GeminiModel:   getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		ReportingSalt: strings.TrimSpace(getenv("REPORTING_SALT", "")),
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     int(getenvInt64("SMTP_PORT", 587)),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "Pledge Ledger <ledger@example.org>"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Operations:               ops,
		Confidential:              confidential,
		AllocLockWaitMs:           int(getenvInt64("ALLOC_LOCK_WAIT_MS", 30000)),
		AIOracleTimeout:           time.Duration(getenvInt64("AI_ORACLE_TIMEOUT_SECONDS", 60)) * time.Second,
		MailSendTimeout:           time.Duration(getenvInt64("MAIL_SEND_TIMEOUT_SECONDS", 120)) * time.Second,
		AttachmentCapMiB:          getenvInt64("ATTACHMENT_CAP_MIB", 24),
		ReceiptProcessorInterval:  time.Duration(getenvInt64("RECEIPT_PROCESSOR_INTERVAL_MINUTES", 10)) * time.Minute,
		WatchdogInterval:          time.Duration(getenvInt64("WATCHDOG_INTERVAL_MINUTES", 15)) * time.Minute,
		DailySweepLocal:           getenv("DAILY_SWEEP_LOCAL_TIME", "09:00"),
		APIKeyHeader:              getenv("API_KEY_HEADER", "X-Api-Key"),
		BlobStoreRoot:             getenv("BLOB_STORE_ROOT", "./data/blobs"),
		AdminEmail:                getenv("ADMIN_EMAIL", "admin@example.org"),
		ReminderDaysSinceDue:      []int{0, 7},
		MaxReminders:              int(getenvInt64("MAX_REMINDERS", 2)),
		OverdueThresholdDays:      int(getenvInt64("OVERDUE_THRESHOLD_DAYS", 14)),
		LapsedThresholdDays:       int(getenvInt64("LAPSED_THRESHOLD_DAYS", 30)),
		InstallmentMissedDays:     int(getenvInt64("INSTALLMENT_MISSED_DAYS", 30)),
		MonthlyBatchDay:           int(getenvInt64("MONTHLY_BATCH_DAY", 10)),
		DefaultStudentAllocation:  getenvInt64("DEFAULT_STUDENT_ALLOCATION", 25000),
		PledgeAmounts: map[string]int64{
			"Month":      25000,
			"Semester":   150000,
			"Year":       300000,
			"Four Years": 1200000,
		},
		ChapterLeads:              map[string]string{},
		AlwaysCC:                  splitCSV(getenv("ALWAYS_CC", "")),
		InternalSenderDomains:     splitCSV(getenv("INTERNAL_SENDER_DOMAINS", "")),
		ReceiptsLabelToProcess:    getenv("RECEIPTS_LABEL_TO_PROCESS", "Receipts/To-Process"),
		ReceiptsLabelProcessed:    getenv("RECEIPTS_LABEL_PROCESSED", "Receipts/Processed"),
		DonorQueryLabel:           getenv("DONOR_QUERY_LABEL", "Donor-Query"),
		ManualReviewLabel:         getenv("MANUAL_REVIEW_LABEL", "Manual-Review"),
		WatchdogManualReviewLabel: getenv("WATCHDOG_MANUAL_REVIEW_LABEL", "Watchdog/Manual-Review"),
		WatchdogProcessedLabel:    getenv("WATCHDOG_PROCESSED_LABEL", "Watchdog/Processed"),
		WatchdogInboundLabel:      getenv("WATCHDOG_INBOUND_LABEL", "Watchdog/Inbound"),
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
