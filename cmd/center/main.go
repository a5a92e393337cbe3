// SPDX-License-Identifier: AGPL-3.0-or-later

// Command center runs the MFA control plane's central process: the
// Policy Engine, Challenge Orchestrator, Session Manager, Certificate
// Authority, and Admin REST API, all behind the Policy Stream's agent
// fan-out and the leader lease that arbitrates singleton background work
// across a multi-instance deployment.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/guardctl/guardctl/internal/api"
	"github.com/guardctl/guardctl/internal/auth"
	"github.com/guardctl/guardctl/internal/authz"
	"github.com/guardctl/guardctl/internal/ca"
	"github.com/guardctl/guardctl/internal/centersvc"
	"github.com/guardctl/guardctl/internal/challenge"
	"github.com/guardctl/guardctl/internal/config"
	"github.com/guardctl/guardctl/internal/leaderlease"
	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/metrics"
	"github.com/guardctl/guardctl/internal/policyengine"
	"github.com/guardctl/guardctl/internal/policystream"
	"github.com/guardctl/guardctl/internal/provider"
	"github.com/guardctl/guardctl/internal/rpc"
	"github.com/guardctl/guardctl/internal/secretbox"
	"github.com/guardctl/guardctl/internal/session"
	"github.com/guardctl/guardctl/internal/snapshot"
	"github.com/guardctl/guardctl/internal/store"
	"github.com/guardctl/guardctl/internal/supervisor"
	"github.com/guardctl/guardctl/internal/supervisor/services"
	"github.com/guardctl/guardctl/internal/tokencodec"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("center: fatal startup error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	log := logging.Logger()

	st, err := store.Open(store.Config{Path: cfg.Store.Path, Threads: cfg.Store.Threads, Log: log})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authority, err := ca.Open(cfg.CA.Dir)
	if err != nil {
		return fmt.Errorf("open certificate authority: %w", err)
	}

	sealer, err := secretbox.New(secretbox.Config{MasterKey: cfg.Security.EncryptionKey})
	if err != nil {
		return fmt.Errorf("init secret sealer: %w", err)
	}
	signingKey, err := base64.StdEncoding.DecodeString(cfg.Security.SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	codec, err := tokencodec.New(signingKey)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	enrollments := store.NewEnrollmentStore(st, sealer)
	challengeDB := store.NewChallengeStore(st)
	sessions := session.New(st, codec)

	registry := provider.NewRegistry()
	registry.Register(provider.NewTOTP("guardctl"))

	engine := policyengine.New(st)
	orchestrator := challenge.New(challengeDB, enrollments, registry)
	stream := policystream.New()
	snapshots := snapshot.New(st, st, cfg.Snapshot.BackupRoot,
		snapshot.WithInterval(cfg.Snapshot.Interval), snapshot.WithRetention(cfg.Snapshot.RetentionCount))

	svc := centersvc.New(engine, orchestrator, challengeDB, sessions, authority, stream, st, log)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLoggerWithLevel(cfg.Logging.Level)
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	rpcServer, err := newRPCServer(cfg, svc, log)
	if err != nil {
		return fmt.Errorf("build rpc listener: %w", err)
	}
	tree.AddAPIService(services.NewHTTPServerService("rpc-server", services.TLSServer{Server: rpcServer}, 10*time.Second))

	enforcer, err := authz.NewEnforcer(rootCtx, authzConfig(cfg))
	if err != nil {
		return fmt.Errorf("build casbin enforcer: %w", err)
	}
	authChain, err := buildAuthChain(cfg)
	if err != nil {
		return fmt.Errorf("build auth chain: %w", err)
	}
	restDeps := api.Deps{
		Store: st, Enrollments: enrollments, Sealer: sealer, Providers: registry,
		Sessions: sessions, Challenges: orchestrator, Snapshots: snapshots,
		PolicyFeed: stream, Enforcer: enforcer, AuthChain: authChain, Config: cfg,
	}
	restServer := &http.Server{
		Addr: cfg.REST.BindAddr, Handler: api.NewRouter(restDeps),
		ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, IdleTimeout: 60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService("admin-rest-server", restServer, 10*time.Second))

	metricsServer := &http.Server{Addr: cfg.Metrics.BindAddr, Handler: promhttp.Handler(), ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	tree.AddAPIService(services.NewHTTPServerService("metrics-server", metricsServer, 5*time.Second))

	tree.AddDataService(services.NewFuncService("backup-scheduler", snapshots.RunScheduled))

	if cfg.HA.Enabled {
		lease := leaderlease.New(store.NewLeaseStore(st), cfg.HA.HolderID, cfg.HA.LeaseTTL)
		tree.AddDataService(services.NewFuncService("leader-lease", leaderElectionLoop(lease, cfg.HA.LeaseTTL, log)))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := tree.ServeBackground(rootCtx)
	log.Info().Str("rpc_addr", cfg.RPC.BindAddr).Str("rest_addr", cfg.REST.BindAddr).Msg("center: started")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("center: shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("center: supervisor tree exited with error")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("center: services did not stop within the shutdown timeout")
	}
	return nil
}

// newRPCServer builds the agent-facing mTLS HTTP/2 listener: client
// certificates are required and verified against the trust pool at
// MTLS.CAPath, the same pool agents present their center certificate
// against on their side of the connection.
func newRPCServer(cfg *config.Config, svc rpc.Handler, log zerolog.Logger) (*http.Server, error) {
	cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertPath, cfg.MTLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load rpc server certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.MTLS.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read trusted ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no usable certificates found in %s", cfg.MTLS.CAPath)
	}

	return &http.Server{
		Addr:      cfg.RPC.BindAddr,
		Handler:   rpc.NewMux(svc, log),
		TLSConfig: rpc.ServerTLSConfig(cert, pool),
	}, nil
}

func authzConfig(cfg *config.Config) *authz.EnforcerConfig {
	ec := authz.DefaultEnforcerConfig()
	ec.ModelPath = cfg.Security.CasbinModelPath
	ec.PolicyPath = cfg.Security.CasbinPolicyPath
	return ec
}

func buildAuthChain(cfg *config.Config) (*auth.Chain, error) {
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("build jwt manager: %w", err)
	}
	basicManager, err := auth.NewBasicAuthManager(cfg.Security.AdminUsername, cfg.Security.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("build basic auth manager: %w", err)
	}
	return auth.NewChain(
		auth.NewJWTAuthenticator(jwtManager),
		auth.NewBasicAuthenticator(basicManager, &auth.BasicAuthenticatorConfig{AdminUsername: cfg.Security.AdminUsername}),
	), nil
}

// leaderElectionLoop runs one election round per third of the lease TTL
// until ctx is canceled, logging and counting acquisitions/losses as this
// instance's leadership status flips.
func leaderElectionLoop(lease *leaderlease.Lease, ttl time.Duration, log zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		interval := ttl / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		wasLeading := false
		for {
			leading, err := lease.Tick(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("center: leader election tick failed")
			} else if leading != wasLeading {
				if leading {
					metrics.RecordLeaderAcquired()
					log.Info().Msg("center: acquired leadership")
				} else {
					metrics.RecordLeaderLost()
					log.Info().Msg("center: lost leadership")
				}
				wasLeading = leading
			}

			select {
			case <-ctx.Done():
				if wasLeading {
					_ = lease.Resign(context.Background())
				}
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
