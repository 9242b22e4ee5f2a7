// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr        string `yaml:"addr"`
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	Storage struct {
		// "postgres" | "memory"
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
			AutoMigrate     bool   `yaml:"auto_migrate"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// "memory" | "redis"
		Driver   string `yaml:"driver"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	SSO struct {
		StateTTL        string `yaml:"state_ttl"`        // default 10m
		ProviderTimeout string `yaml:"provider_timeout"` // timeout de llamadas salientes, default 10s
		ConfigCacheTTL  string `yaml:"config_cache_ttl"` // hot cache de providers, default 5m
	} `yaml:"sso"`

	// Session define los defaults de policy de organización. Una
	// organización puede sobreescribirlos; el engine los consume
	// read-only vía PolicyProvider.
	Session struct {
		Timeout          string   `yaml:"timeout"`          // idle/session timeout, default 30m
		AbsoluteTimeout  string   `yaml:"absolute_timeout"` // default 12h
		ConcurrentLimit  int      `yaml:"concurrent_limit"` // default 5; 1 = sesión única
		RenewalFraction  float64  `yaml:"renewal_fraction"` // default 0.2
		BindFingerprint  bool     `yaml:"bind_fingerprint"`
		BindIP           bool     `yaml:"bind_ip"`
		RequireMFA       bool     `yaml:"require_mfa"`
		AllowedCountries []string `yaml:"allowed_countries"` // vacío = sin restricción
	} `yaml:"session"`

	MFA struct {
		Issuer           string `yaml:"issuer"`            // issuer del otpauth URL
		Window           int    `yaml:"window"`            // pasos TOTP de tolerancia, default 1
		LockoutThreshold int    `yaml:"lockout_threshold"` // default 5
		LockoutWindow    string `yaml:"lockout_window"`    // default 15m
		BackupCodes      int    `yaml:"backup_codes"`      // default 10
		TrustTTL         string `yaml:"trust_ttl"`         // remember-device, default 720h
	} `yaml:"mfa"`

	Risk struct {
		Weights struct {
			DeviceUntrusted int `yaml:"device_untrusted"`
			MFAUnverified   int `yaml:"mfa_unverified"`
			HighRiskCountry int `yaml:"high_risk_country"`
			UnknownDevice   int `yaml:"unknown_device"`
			IPChanged       int `yaml:"ip_changed"`
			StaleSession    int `yaml:"stale_session"`
		} `yaml:"weights"`
		MediumThreshold   int      `yaml:"medium_threshold"` // default 30
		HighThreshold     int      `yaml:"high_threshold"`   // default 60
		HighRiskCountries []string `yaml:"high_risk_countries"`
		FreshnessWindow   string   `yaml:"freshness_window"` // default 8h
	} `yaml:"risk"`

	Analyzer struct {
		FailureWindow       string `yaml:"failure_window"`        // default 15m
		FailureThreshold    int    `yaml:"failure_threshold"`     // default 5
		DistinctIPWindow    string `yaml:"distinct_ip_window"`    // default 24h
		DistinctIPThreshold int    `yaml:"distinct_ip_threshold"` // default 3
		PrivilegeWindow     string `yaml:"privilege_window"`      // default 5m
		PrivilegeThreshold  int    `yaml:"privilege_threshold"`   // default 3
	} `yaml:"analyzer"`

	Retention struct {
		Audit          string `yaml:"audit"`           // default 2160h (90d)
		ResolvedAlerts string `yaml:"resolved_alerts"` // default 720h (30d)
		SweepInterval  string `yaml:"sweep_interval"`  // default 1h
	} `yaml:"retention"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		MFA struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"mfa"`
	} `yaml:"rate"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load lee el YAML (si existe) y aplica overrides de entorno.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AEGIS_ENV"); v != "" {
		c.App.Env = v
	}
	if v := os.Getenv("AEGIS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AEGIS_ADMIN_API_KEY"); v != "" {
		c.Server.AdminAPIKey = v
	}
	if v := os.Getenv("AEGIS_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("AEGIS_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("AEGIS_STORAGE_AUTO_MIGRATE"); v != "" {
		c.Storage.Postgres.AutoMigrate = v == "true" || v == "1"
	}
	if v := os.Getenv("AEGIS_CACHE_DRIVER"); v != "" {
		c.Cache.Driver = v
	}
	if v := os.Getenv("AEGIS_CACHE_ADDR"); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AEGIS_SESSION_CONCURRENT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.ConcurrentLimit = n
		}
	}
}

func (c *Config) applyDefaults() {
	def := func(s *string, v string) {
		if strings.TrimSpace(*s) == "" {
			*s = v
		}
	}
	defInt := func(n *int, v int) {
		if *n <= 0 {
			*n = v
		}
	}

	def(&c.App.Env, "dev")
	def(&c.Server.Addr, ":8080")
	def(&c.Storage.Driver, "memory")
	def(&c.Cache.Driver, "memory")
	def(&c.Cache.Prefix, "aegis")

	def(&c.SSO.StateTTL, "10m")
	def(&c.SSO.ProviderTimeout, "10s")
	def(&c.SSO.ConfigCacheTTL, "5m")

	def(&c.Session.Timeout, "30m")
	def(&c.Session.AbsoluteTimeout, "12h")
	defInt(&c.Session.ConcurrentLimit, 5)
	if c.Session.RenewalFraction <= 0 || c.Session.RenewalFraction >= 1 {
		c.Session.RenewalFraction = 0.2
	}

	def(&c.MFA.Issuer, "Aegis")
	if c.MFA.Window <= 0 || c.MFA.Window > 3 {
		c.MFA.Window = 1
	}
	defInt(&c.MFA.LockoutThreshold, 5)
	def(&c.MFA.LockoutWindow, "15m")
	defInt(&c.MFA.BackupCodes, 10)
	def(&c.MFA.TrustTTL, "720h")

	w := &c.Risk.Weights
	defInt(&w.DeviceUntrusted, 25)
	defInt(&w.MFAUnverified, 20)
	defInt(&w.HighRiskCountry, 20)
	defInt(&w.UnknownDevice, 10)
	defInt(&w.IPChanged, 25)
	defInt(&w.StaleSession, 10)
	defInt(&c.Risk.MediumThreshold, 30)
	defInt(&c.Risk.HighThreshold, 60)
	def(&c.Risk.FreshnessWindow, "8h")

	def(&c.Analyzer.FailureWindow, "15m")
	defInt(&c.Analyzer.FailureThreshold, 5)
	def(&c.Analyzer.DistinctIPWindow, "24h")
	defInt(&c.Analyzer.DistinctIPThreshold, 3)
	def(&c.Analyzer.PrivilegeWindow, "5m")
	defInt(&c.Analyzer.PrivilegeThreshold, 3)

	def(&c.Retention.Audit, "2160h")
	def(&c.Retention.ResolvedAlerts, "720h")
	def(&c.Retention.SweepInterval, "1h")

	defInt(&c.Rate.Login.Limit, 10)
	def(&c.Rate.Login.Window, "1m")
	defInt(&c.Rate.MFA.Limit, 10)
	def(&c.Rate.MFA.Window, "1m")

	def(&c.Log.Level, "info")
}

// MustDuration parsea una duración de la config; panic si es inválida.
// Pensado para usarse en el wiring de main, después de Load.
func MustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: duración inválida %q: %v", s, err))
	}
	return d
}

// DurationOr parsea una duración con fallback.
func DurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
