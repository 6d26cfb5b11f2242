// Package agent is a discovery plugin that runs on a Docker host and
// mirrors the host's JVM containers into a Flightdeck realm.
//
// The agent:
//   - Registers the realm with the Flightdeck server through the discovery
//     plugin protocol and answers the server's callback pings
//   - Syncs labelled containers on startup, on container events and on a
//     fixed interval, publishing the realm's subtree after every sync
//   - Refreshes its plugin token before it expires
//   - Registers again when the server has forgotten it (restart or eviction)
//   - Deregisters on shutdown, which removes the realm and its targets
//
// Example usage:
//
//	a, err := agent.New(agent.Config{
//	    ServerURL:   "http://flightdeck:8181",
//	    Realm:       "docker-host-01",
//	    Listen:      ":8282",
//	    CallbackURL: "http://host-01:8282/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//	if err := a.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/discovery/docker"
	"evalgo.org/flightdeck/internal/version"
	"evalgo.org/flightdeck/models"
	"evalgo.org/flightdeck/pkg/flightdeck/client"
)

// Config configures an Agent.
type Config struct {
	// ServerURL is the Flightdeck API base URL
	ServerURL string
	// Realm names the realm the agent owns; defaults to docker-<hostname>
	Realm string
	// Listen is the address of the callback server
	Listen string
	// CallbackURL is the URL the server pings; derived from the hostname
	// and the listen port when empty
	CallbackURL string
	// DockerHost is a unix://, tcp:// or ssh:// daemon address
	DockerHost  string
	SSHIdentity string

	SyncInterval time.Duration
	// RefreshInterval is how often the plugin token is renewed; it must
	// be shorter than the server's token lifetime
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// Agent manages one realm on behalf of a Docker host.
type Agent struct {
	cfg         Config
	client      *client.Client
	docker      docker.API
	closeDocker func() error
	logger      *zap.Logger

	// ctx is the Run context, used by pushes the sync loop triggers
	ctx context.Context

	mu      sync.Mutex
	reg     models.RegistrationResponse
	targets []models.Target

	// pushMu serializes publishes from the sync loop and re-registration
	pushMu sync.Mutex

	startTime    time.Time
	syncCount    atomic.Int64
	failedSyncs  atomic.Int64
	pingCount    atomic.Int64
	lastSyncUnix atomic.Int64
}

// New connects to the Docker daemon and creates an agent.
func New(cfg Config) (*Agent, error) {
	api, closeFn, err := docker.NewClient(cfg.DockerHost, cfg.SSHIdentity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := api.Ping(ctx); err != nil {
		_ = closeFn()
		return nil, fmt.Errorf("failed to connect to Docker: %w", err)
	}

	a, err := newAgent(cfg, api)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	a.closeDocker = closeFn
	return a, nil
}

func newAgent(cfg Config, api docker.API) (*Agent, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Realm == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("realm is required: %w", err)
		}
		cfg.Realm = "docker-" + hostname
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8282"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}

	c, err := client.New(cfg.ServerURL, client.WithUserAgent(version.UserAgent()))
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:       cfg,
		client:    c,
		docker:    api,
		logger:    cfg.Logger.Named("agent"),
		ctx:       context.Background(),
		startTime: time.Now(),
	}, nil
}

// Close releases the Docker client.
func (a *Agent) Close() error {
	if a.closeDocker != nil {
		return a.closeDocker()
	}
	return nil
}

// Realm returns the realm the agent owns.
func (a *Agent) Realm() string {
	return a.cfg.Realm
}

// Run registers the realm and mirrors containers until ctx is done, then
// deregisters.
func (a *Agent) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Listen, err)
	}
	if a.cfg.CallbackURL == "" {
		a.cfg.CallbackURL = defaultCallback(ln.Addr())
	}
	srv := a.newHTTPServer()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("callback server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.ctx = ctx
	a.logger.Info("agent starting",
		zap.String("server", a.cfg.ServerURL),
		zap.String("realm", a.cfg.Realm),
		zap.String("callback", a.cfg.CallbackURL))

	if err := a.registerWithRetry(ctx); err != nil {
		return err
	}
	defer a.deregister()

	go a.refreshLoop(ctx)

	source := docker.New(a.docker, a, a.cfg.SyncInterval, a.logger)
	return source.Run(ctx)
}

// defaultCallback uses the listen IP when it is a specific address and the
// hostname otherwise.
func defaultCallback(addr net.Addr) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	port := "8282"
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
		if tcp.IP != nil && !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
	}
	return "http://" + net.JoinHostPort(host, port) + "/callback"
}

// registerWithRetry registers until it succeeds, the realm turns out to be
// owned by someone else, or ctx is done.
func (a *Agent) registerWithRetry(ctx context.Context) error {
	backoff := time.Second
	for {
		err := a.register(ctx)
		if err == nil {
			return nil
		}
		if client.StatusCode(err) == http.StatusConflict {
			return fmt.Errorf("realm %q is already registered: %w", a.cfg.Realm, err)
		}
		a.logger.Warn("registration failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	reg, err := a.client.Register(ctx, a.cfg.Realm, a.cfg.CallbackURL)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.reg = reg
	a.mu.Unlock()
	a.logger.Info("registered with server", zap.String("plugin", reg.ID), zap.String("realm", a.cfg.Realm))
	return nil
}

func (a *Agent) registration() models.RegistrationResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reg
}

func (a *Agent) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refresh(ctx); err != nil {
				a.logger.Warn("token refresh failed", zap.Error(err))
			}
		}
	}
}

// refresh renews the plugin token. A rejected refresh means the server
// dropped the registration, so the agent registers again and republishes.
func (a *Agent) refresh(ctx context.Context) error {
	a.pushMu.Lock()
	defer a.pushMu.Unlock()

	cur := a.registration()
	reg, err := a.client.Refresh(ctx, cur.ID, cur.Token, a.cfg.Realm, a.cfg.CallbackURL)
	if err == nil {
		a.mu.Lock()
		a.reg = reg
		a.mu.Unlock()
		return nil
	}
	switch client.StatusCode(err) {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized:
		return a.reregisterLocked(ctx)
	}
	return err
}

func (a *Agent) reregisterLocked(ctx context.Context) error {
	a.logger.Info("registration lost, registering again")
	if err := a.register(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	targets := a.targets
	a.mu.Unlock()
	return a.publishLocked(ctx, targets)
}

func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg := a.registration()
	if err := a.client.Deregister(ctx, reg.ID, reg.Token); err != nil {
		a.logger.Warn("deregistration failed", zap.Error(err))
		return
	}
	a.logger.Info("deregistered from server", zap.String("plugin", reg.ID))
}

// RegisterBuiltinRealm satisfies docker.Tree. The realm already exists on
// the server once the agent is registered.
func (a *Agent) RegisterBuiltinRealm(string) (*models.DiscoveryNode, error) {
	return &models.DiscoveryNode{Name: a.cfg.Realm, NodeType: models.NodeTypeRealm}, nil
}

// SetRealmTargets satisfies docker.Tree by publishing targets as the
// realm's subtree.
func (a *Agent) SetRealmTargets(_ string, targets []models.Target) error {
	a.pushMu.Lock()
	defer a.pushMu.Unlock()

	a.mu.Lock()
	a.targets = targets
	a.mu.Unlock()

	err := a.publishLocked(a.ctx, targets)
	switch client.StatusCode(err) {
	case http.StatusNotFound, http.StatusUnauthorized:
		err = a.reregisterLocked(a.ctx)
	}
	if err != nil {
		a.failedSyncs.Add(1)
		return err
	}
	a.syncCount.Add(1)
	a.lastSyncUnix.Store(time.Now().Unix())
	return nil
}

func (a *Agent) publishLocked(ctx context.Context, targets []models.Target) error {
	reg := a.registration()
	return a.client.Publish(ctx, reg.ID, reg.Token, targetNodes(targets))
}

// targetNodes turns targets into JVM leaves.
func targetNodes(targets []models.Target) []*models.DiscoveryNode {
	nodes := make([]*models.DiscoveryNode, 0, len(targets))
	for _, t := range targets {
		t := t
		nodes = append(nodes, &models.DiscoveryNode{
			Name:     t.DisplayName(),
			NodeType: models.NodeTypeJVM,
			Labels:   map[string]string{},
			Target:   &t,
		})
	}
	return nodes
}

// Targets returns the targets last published.
func (a *Agent) Targets() []models.Target {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Target(nil), a.targets...)
}
