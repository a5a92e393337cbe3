// SPDX-License-Identifier: AGPL-3.0-or-later

// Command agent runs the MFA control plane's host-side process: the
// local state cache, the mTLS RPC client to the center, the Agent
// Decision Service, the DC-to-DC gossip participant, and the Unix-socket
// IPC endpoint the host interception shim talks to.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/guardctl/guardctl/internal/agentcache"
	"github.com/guardctl/guardctl/internal/agentsvc"
	"github.com/guardctl/guardctl/internal/config"
	"github.com/guardctl/guardctl/internal/decision"
	"github.com/guardctl/guardctl/internal/gossip"
	"github.com/guardctl/guardctl/internal/gossipsvc"
	"github.com/guardctl/guardctl/internal/ipc"
	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/rpc"
	"github.com/guardctl/guardctl/internal/rpcclient"
	"github.com/guardctl/guardctl/internal/supervisor"
	"github.com/guardctl/guardctl/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("agent: fatal startup error")
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

	cache, err := agentcache.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open agent cache: %w", err)
	}
	defer cache.Close()

	tlsConfig, err := clientTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("build mtls client config: %w", err)
	}
	central := rpcclient.New(rpcclient.Config{BaseURL: cfg.Agent.CenterURL, TLSConfig: tlsConfig})

	peers := make(map[string]gossip.Peer, len(cfg.Agent.GossipPeers))
	for _, peerURL := range cfg.Agent.GossipPeers {
		peers[peerURL] = rpcclient.New(rpcclient.Config{BaseURL: peerURL, TLSConfig: tlsConfig})
	}
	node := gossip.NewNode(cfg.Agent.ID, cache, peers, log)

	decisions := decision.New(cache, central, cfg.Agent.ID, cfg.Agent.FailoverMode, log).WithGossip(node)

	gossipServer, err := newGossipServer(cfg, node, log)
	if err != nil {
		return fmt.Errorf("build gossip listener: %w", err)
	}

	handler := agentsvc.New(decisions, central)
	ipcServer, err := ipc.Listen(ipc.Config{
		SocketPath: cfg.Agent.IPCSocketPath,
		Handler:    handler.Handle,
		Log:        log,
		AllowedUID: cfg.Agent.IPCAllowedUIDs,
	})
	if err != nil {
		return fmt.Errorf("listen on ipc socket: %w", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := central.RegisterAgent(rootCtx, rpc.RegisterAgentRequest{Hostname: hostname(), AgentType: "endpoint"}); err != nil {
		log.Warn().Err(err).Msg("agent: initial registration with center failed, continuing in degraded mode")
	}

	slogLogger := logging.NewSlogLoggerWithLevel(cfg.Logging.Level)
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddAPIService(services.NewFuncService("ipc-server", ipcServer.Serve))
	if gossipServer != nil {
		tree.AddAPIService(services.NewHTTPServerService("gossip-server", services.TLSServer{Server: gossipServer}, 5*time.Second))
	}
	tree.AddMessagingService(services.NewFuncService("heartbeat-loop", heartbeatLoop(central, cfg.Agent.ID, cfg.Agent.HeartbeatInterval, log)))
	tree.AddMessagingService(services.NewFuncService("policy-sync-loop", policySyncLoop(central, cache, cfg.Agent.ID, cfg.Agent.PolicySyncInterval, log)))
	tree.AddDataService(services.NewFuncService("cache-sweeper", cacheSweepLoop(cache, log)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := tree.ServeBackground(rootCtx)
	log.Info().Str("center_url", cfg.Agent.CenterURL).Str("ipc_socket", cfg.Agent.IPCSocketPath).Msg("agent: started")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("agent: shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("agent: supervisor tree exited with error")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("agent: services did not stop within the shutdown timeout")
	}
	return nil
}

// newGossipServer builds the listener peer agents dial to replicate
// session events into this agent's local cache. A blank GossipBindAddr
// disables gossip receipt for this agent (it can still send).
func newGossipServer(cfg *config.Config, node *gossip.Node, log zerolog.Logger) (*http.Server, error) {
	if cfg.Agent.GossipBindAddr == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertPath, cfg.MTLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load gossip server certificate: %w", err)
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
		Addr:      cfg.Agent.GossipBindAddr,
		Handler:   rpc.NewMux(gossipsvc.New(node), log),
		TLSConfig: rpc.ServerTLSConfig(cert, pool),
	}, nil
}

func clientTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertPath, cfg.MTLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load agent client certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.MTLS.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read trusted ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no usable certificates found in %s", cfg.MTLS.CAPath)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// heartbeatLoop reports liveness to the center on a fixed interval until
// ctx is canceled.
func heartbeatLoop(central *rpcclient.Client, agentID string, interval time.Duration, log zerolog.Logger) func(context.Context) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := central.Heartbeat(ctx, rpc.HeartbeatRequest{AgentID: agentID}); err != nil {
					log.Warn().Err(err).Msg("agent: heartbeat failed")
				}
			}
		}
	}
}

// policySyncLoop re-opens the central's streamed policy feed on a fixed
// interval, applying each update to the local cache. A dropped stream
// (center restart, network blip) is retried on the next tick rather than
// treated as a fatal service failure.
func policySyncLoop(central *rpcclient.Client, cache *agentcache.Cache, agentID string, interval time.Duration, log zerolog.Logger) func(context.Context) error {
	if interval <= 0 {
		interval = time.Minute
	}
	return func(ctx context.Context) error {
		lastSync := time.Time{}
		if v, err := cache.GetMetadata(agentcache.MetadataKeyLastSync); err == nil && v != "" {
			if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
				lastSync = t
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				syncStart := time.Now()
				err := central.SyncPolicies(ctx, rpc.SyncPoliciesRequest{AgentID: agentID, LastSync: lastSync}, func(u rpc.PolicyUpdate) error {
					if u.Deleted {
						return cache.EvictPolicy(u.PolicyID)
					}
					var p models.Policy
					if err := json.Unmarshal([]byte(u.PolicyJSON), &p); err != nil {
						return fmt.Errorf("decode policy update: %w", err)
					}
					return cache.UpsertPolicy(p)
				})
				if err != nil {
					log.Warn().Err(err).Msg("agent: policy sync failed")
					continue
				}
				lastSync = syncStart
				if err := cache.SetMetadata(agentcache.MetadataKeyLastSync, syncStart.UTC().Format(time.RFC3339Nano)); err != nil {
					log.Warn().Err(err).Msg("agent: persist policy sync high-watermark failed")
				}
			}
		}
	}
}

// cacheSweepLoop periodically evicts expired sessions from the local
// cache so a revoked or expired session is never served from the
// fail-open fast path.
func cacheSweepLoop(cache *agentcache.Cache, log zerolog.Logger) func(context.Context) error {
	const interval = 5 * time.Minute
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, err := cache.CleanupExpired(time.Now())
				if err != nil {
					log.Warn().Err(err).Msg("agent: cache sweep failed")
					continue
				}
				if n > 0 {
					log.Debug().Int("count", n).Msg("agent: swept expired sessions")
				}
			}
		}
	}
}
