package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the dialerd service. Scheduling knobs
// here are only the boot-time seed; the runtime values live in the policy
// store and move through PUT /api/v1/config.
type Config struct {
	LogLevel string
	DataDir  string

	// Outbound identities (caller ID numbers) for the rotation pool.
	Identities []string

	// Provider and CRM endpoints.
	ProviderURL    string
	ProviderAPIKey string
	CRMURL         string
	CRMAPIKey      string

	// Infrastructure. Empty values disable the corresponding integration.
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string

	// Listeners.
	APIAddr      string
	MetricsAddr  string
	OTelEndpoint string

	// Scheduling seed.
	MaxAttempts          int
	MaxDailyAttempts     int
	ProgressiveIntervals []time.Duration
	MaxCallsPerSecond    float64
	SameNumberInterval   time.Duration
	TickInterval         time.Duration
	BatchSize            int

	// Business hours seed.
	HoursEnabled     bool
	HoursTimezone    string
	HoursStartMinute int
	HoursEndMinute   int
	HoursWeekdays    []int
	HoursBlackouts   []string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:   v.GetString("log_level"),
		DataDir:    v.GetString("data_dir"),
		Identities: v.GetStringSlice("identities"),

		ProviderURL:    v.GetString("provider_url"),
		ProviderAPIKey: v.GetString("provider_api_key"),
		CRMURL:         v.GetString("crm_url"),
		CRMAPIKey:      v.GetString("crm_api_key"),

		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),

		APIAddr:      v.GetString("api_addr"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),

		MaxAttempts:          v.GetInt("max_attempts"),
		MaxDailyAttempts:     v.GetInt("max_daily_attempts"),
		ProgressiveIntervals: durationSlice(v.GetStringSlice("progressive_intervals")),
		MaxCallsPerSecond:    v.GetFloat64("max_calls_per_second"),
		SameNumberInterval:   v.GetDuration("same_number_interval"),
		TickInterval:         v.GetDuration("tick_interval"),
		BatchSize:            v.GetInt("batch_size"),

		HoursEnabled:     v.GetBool("hours_enabled"),
		HoursTimezone:    v.GetString("hours_timezone"),
		HoursStartMinute: v.GetInt("hours_start_minute"),
		HoursEndMinute:   v.GetInt("hours_end_minute"),
		HoursWeekdays:    v.GetIntSlice("hours_weekdays"),
		HoursBlackouts:   v.GetStringSlice("hours_blackouts"),
	}
}

// durationSlice parses Go duration strings, dropping entries that fail to
// parse. Policy validation catches an empty result.
func durationSlice(raw []string) []time.Duration {
	var out []time.Duration
	for _, s := range raw {
		if d, err := time.ParseDuration(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}
