// aegis es el binario del engine de sesiones y autenticación federada.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/aegis/internal/analyzer"
	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	adminctrl "github.com/dropDatabas3/aegis/internal/http/controllers/admin"
	mfactrl "github.com/dropDatabas3/aegis/internal/http/controllers/mfa"
	securityctrl "github.com/dropDatabas3/aegis/internal/http/controllers/security"
	sessionctrl "github.com/dropDatabas3/aegis/internal/http/controllers/session"
	ssoctrl "github.com/dropDatabas3/aegis/internal/http/controllers/sso"
	"github.com/dropDatabas3/aegis/internal/http/router"
	"github.com/dropDatabas3/aegis/internal/jobs"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/mfa"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/rate"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/session"
	"github.com/dropDatabas3/aegis/internal/sso"
	"github.com/dropDatabas3/aegis/internal/store"
	"github.com/dropDatabas3/aegis/internal/store/hotcache"
	"github.com/dropDatabas3/aegis/internal/store/memory"
	"github.com/dropDatabas3/aegis/internal/store/pg"
)

func main() {
	_ = godotenv.Load(".env")     // base
	_ = godotenv.Load(".env.dev") // overrides de desarrollo

	cfgPath := os.Getenv("AEGIS_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "aegis"})
	defer func() { _ = logger.Sync() }()
	zlog := logger.L().With(logger.Component("main"))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Fast Cache ---
	fastCache, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer func() { _ = fastCache.Close() }()

	// --- Credential Store ---
	var st store.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := pg.New(rootCtx, pg.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.Postgres.MaxOpenConns,
			ConnMaxLifetime: config.DurationOr(cfg.Storage.Postgres.ConnMaxLifetime, 30*time.Minute),
		})
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		if cfg.Storage.Postgres.AutoMigrate {
			if err := pgStore.RunMigrations(rootCtx); err != nil {
				log.Fatalf("migraciones: %v", err)
			}
		}
		st = pgStore
	default:
		zlog.Warn("usando store en memoria: solo para desarrollo")
		st = memory.New()
	}
	defer st.Close()

	// --- métricas ---
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(promReg); err != nil {
		log.Fatalf("metrics: %v", err)
	}

	// --- servicios de dominio ---
	policies := config.StaticPolicyProvider{Policy: cfg.DefaultPolicy()}

	scorer := risk.NewScorer(risk.Config{
		Weights: risk.Weights{
			DeviceUntrusted: cfg.Risk.Weights.DeviceUntrusted,
			MFAUnverified:   cfg.Risk.Weights.MFAUnverified,
			HighRiskCountry: cfg.Risk.Weights.HighRiskCountry,
			UnknownDevice:   cfg.Risk.Weights.UnknownDevice,
			IPChanged:       cfg.Risk.Weights.IPChanged,
			StaleSession:    cfg.Risk.Weights.StaleSession,
		},
		MediumThreshold:   cfg.Risk.MediumThreshold,
		HighThreshold:     cfg.Risk.HighThreshold,
		HighRiskCountries: cfg.Risk.HighRiskCountries,
		FreshnessWindow:   config.MustDuration(cfg.Risk.FreshnessWindow),
	})

	patternAnalyzer := analyzer.New(analyzer.Config{
		FailureWindow:       config.MustDuration(cfg.Analyzer.FailureWindow),
		FailureThreshold:    cfg.Analyzer.FailureThreshold,
		DistinctIPWindow:    config.MustDuration(cfg.Analyzer.DistinctIPWindow),
		DistinctIPThreshold: cfg.Analyzer.DistinctIPThreshold,
		PrivilegeWindow:     config.MustDuration(cfg.Analyzer.PrivilegeWindow),
		PrivilegeThreshold:  cfg.Analyzer.PrivilegeThreshold,
	}, analyzer.Deps{
		Alerts: st.Alerts(),
		Audit:  st.Audit(),
		Cache:  fastCache,
	})

	recorder := audit.NewRecorder(audit.RecorderDeps{Audit: st.Audit(), Sink: patternAnalyzer})

	sessionMgr := session.New(session.Deps{
		Sessions: st.Sessions(),
		Cache:    fastCache,
		Risk:     scorer,
		Policies: policies,
		Audit:    recorder,
	})
	// el analyzer termina sesiones ante escalación de privilegios
	patternAnalyzer.SetTerminator(sessionMgr)

	devices := fingerprint.NewEvaluator(fingerprint.EvaluatorDeps{Devices: st.Devices()})

	mfaVerifier := mfa.New(mfa.Config{
		Issuer:           cfg.MFA.Issuer,
		Window:           cfg.MFA.Window,
		LockoutThreshold: cfg.MFA.LockoutThreshold,
		LockoutWindow:    config.MustDuration(cfg.MFA.LockoutWindow),
		BackupCodes:      cfg.MFA.BackupCodes,
		TrustTTL:         config.MustDuration(cfg.MFA.TrustTTL),
	}, mfa.Deps{
		MFA:        st.MFA(),
		Identities: st.Identities(),
		Devices:    devices,
		Sessions:   sessionMgr,
		Audit:      recorder,
	})

	providers := hotcache.NewProviders(st.Providers(), config.MustDuration(cfg.SSO.ConfigCacheTTL))

	orchestrator := sso.New(sso.Config{
		StateTTL:        config.MustDuration(cfg.SSO.StateTTL),
		ProviderTimeout: config.MustDuration(cfg.SSO.ProviderTimeout),
	}, sso.Deps{
		Providers:  providers,
		Identities: st.Identities(),
		Sessions:   st.Sessions(),
		Manager:    sessionMgr,
		Devices:    devices,
		Policies:   policies,
		Cache:      fastCache,
		Audit:      recorder,
	})

	// --- jobs de mantenimiento ---
	sweepInterval := config.MustDuration(cfg.Retention.SweepInterval)
	retention := analyzer.Retention{
		Audit:          config.MustDuration(cfg.Retention.Audit),
		ResolvedAlerts: config.MustDuration(cfg.Retention.ResolvedAlerts),
	}
	runner := jobs.NewRunner(
		jobs.Job{
			Name:     "retention-sweep",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				return patternAnalyzer.Sweep(ctx, retention)
			},
		},
		jobs.Job{
			Name:     "device-trust-expiry",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				_, err := st.Devices().ExpireTrust(ctx, time.Now().UTC())
				return err
			},
		},
		jobs.Job{
			Name:     "session-purge",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				_, err := st.Sessions().DeleteTerminatedBefore(ctx, time.Now().UTC().Add(-retention.Audit))
				return err
			},
		},
	)
	runner.Start(rootCtx)
	defer runner.Stop()

	// --- rate limiters ---
	var loginLimiter, mfaLimiter rate.Limiter
	if cfg.Rate.Enabled {
		loginLimiter = rate.NewWindowLimiter(fastCache, "rl:login",
			cfg.Rate.Login.Limit, config.MustDuration(cfg.Rate.Login.Window))
		mfaLimiter = rate.NewWindowLimiter(fastCache, "rl:mfa",
			cfg.Rate.MFA.Limit, config.MustDuration(cfg.Rate.MFA.Window))
	}

	// --- HTTP ---
	handler := router.New(router.Deps{
		SSO:          ssoctrl.NewController(orchestrator),
		Session:      sessionctrl.NewController(sessionMgr),
		MFA:          mfactrl.NewController(mfaVerifier, sessionMgr),
		Security:     securityctrl.NewController(recorder, st.Audit(), st.Alerts()),
		Admin:        adminctrl.NewProvidersController(providers),
		AdminAPIKey:  cfg.Server.AdminAPIKey,
		LoginLimiter: loginLimiter,
		MFALimiter:   mfaLimiter,
		Metrics:      promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Ready: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.Ping(ctx); err != nil {
				return err
			}
			return fastCache.Ping(ctx)
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		zlog.Info("servidor escuchando", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("apagando servidor")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zlog.Error("servidor terminó con error", logger.Err(err))
		os.Exit(1)
	}
	zlog.Info("apagado limpio")
}
