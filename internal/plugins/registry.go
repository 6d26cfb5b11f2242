// Package plugins implements the discovery plugin protocol. A plugin
// registers a realm and a callback, receives a token, and then replaces its
// realm's subtree wholesale with every push. Registrations are kept in memory
// only; plugins re-register after a restart.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalgo.org/flightdeck/internal/auth"
	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/version"
	"evalgo.org/flightdeck/models"
)

const (
	pingConcurrency = 8
	pingTimeout     = 10 * time.Second
)

// Realms is the part of the discovery tree owned by plugins.
type Realms interface {
	RegisterRealm(name string) (*models.DiscoveryNode, error)
	RemoveRealm(name string) error
	ReplaceRealmChildren(realm string, nodes []*models.DiscoveryNode) error
}

// Options configure a Registry.
type Options struct {
	Tree       Realms
	Tokens     *auth.TokenService
	Sink       notify.Sink
	Logger     *zap.Logger
	HTTPClient *http.Client
	// PingPeriod is the interval between callback pings; zero disables them
	PingPeriod time.Duration
}

// Event is the payload of plugin notifications.
type Event struct {
	ID       string `json:"id"`
	Realm    string `json:"realm"`
	Callback string `json:"callback"`
	Reason   string `json:"reason,omitempty"`
}

type plugin struct {
	// mu serializes token rotation, pushes and removal of one plugin
	mu      sync.Mutex
	reg     models.PluginRegistration
	jti     string
	removed bool
}

// Registry tracks registered discovery plugins.
type Registry struct {
	tree       Realms
	tokens     *auth.TokenService
	sink       notify.Sink
	logger     *zap.Logger
	client     *http.Client
	pingPeriod time.Duration

	mu      sync.RWMutex
	plugins map[string]*plugin
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: pingTimeout}
	}
	return &Registry{
		tree:       opts.Tree,
		tokens:     opts.Tokens,
		sink:       opts.Sink,
		logger:     opts.Logger.Named("plugins"),
		client:     opts.HTTPClient,
		pingPeriod: opts.PingPeriod,
		plugins:    make(map[string]*plugin),
	}
}

// Register registers a new plugin, or refreshes the token of an existing one
// when req carries its id and current token.
func (r *Registry) Register(req models.RegistrationRequest) (*models.RegistrationResponse, error) {
	realm := strings.TrimSpace(req.Realm)
	callback := strings.TrimSpace(req.Callback)
	if realm == "" {
		return nil, fmt.Errorf("%w: realm is required", models.ErrInvalid)
	}
	if callback == "" {
		return nil, fmt.Errorf("%w: callback is required", models.ErrInvalid)
	}
	if err := validateCallback(callback); err != nil {
		return nil, err
	}

	if req.ID != "" || req.Token != "" {
		return r.refresh(req.ID, req.Token, realm, callback)
	}

	if _, err := r.tree.RegisterRealm(realm); err != nil {
		metrics.PluginRegistrations.WithLabelValues("rejected").Inc()
		return nil, err
	}
	id := uuid.NewString()
	token, jti, err := r.tokens.Issue(id, realm)
	if err != nil {
		_ = r.tree.RemoveRealm(realm)
		return nil, fmt.Errorf("failed to issue plugin token: %w", err)
	}

	p := &plugin{
		reg: models.PluginRegistration{ID: id, Realm: realm, Callback: callback},
		jti: jti,
	}
	r.mu.Lock()
	r.plugins[id] = p
	r.mu.Unlock()

	r.logger.Info("discovery plugin registered",
		zap.String("id", id), zap.String("realm", realm), zap.String("callback", redact(callback)))
	metrics.PluginRegistrations.WithLabelValues("registered").Inc()
	r.sink.Publish(notify.CategoryPluginRegistered, Event{ID: id, Realm: realm, Callback: redact(callback)})
	return &models.RegistrationResponse{ID: id, Token: token}, nil
}

func (r *Registry) refresh(id, token, realm, callback string) (*models.RegistrationResponse, error) {
	if id == "" || token == "" {
		return nil, fmt.Errorf("%w: refresh requires both id and token", models.ErrUnauthorized)
	}
	p, err := r.lock(id)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	// A lapsed token may still renew itself as long as it is the current one
	claims, err := r.tokens.ValidateSignature(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if err := r.owns(p, claims); err != nil {
		return nil, err
	}
	if p.reg.Realm != realm {
		return nil, fmt.Errorf("%w: plugin %s is registered for realm %q", models.ErrInvalid, id, p.reg.Realm)
	}
	if p.reg.Callback != callback {
		return nil, fmt.Errorf("%w: plugin %s is registered with a different callback", models.ErrInvalid, id)
	}

	next, jti, err := r.tokens.Issue(id, realm)
	if err != nil {
		return nil, fmt.Errorf("failed to issue plugin token: %w", err)
	}
	p.jti = jti

	r.logger.Info("discovery plugin refreshed", zap.String("id", id), zap.String("realm", realm))
	metrics.PluginRegistrations.WithLabelValues("refreshed").Inc()
	return &models.RegistrationResponse{ID: id, Token: next}, nil
}

// Push replaces the plugin's realm subtree with nodes.
func (r *Registry) Push(id, token string, nodes []*models.DiscoveryNode) error {
	p, err := r.lock(id)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if err := r.authenticate(p, token); err != nil {
		return err
	}
	if nodes == nil {
		nodes = []*models.DiscoveryNode{}
	}
	if err := r.tree.ReplaceRealmChildren(p.reg.Realm, nodes); err != nil {
		return err
	}
	r.logger.Debug("discovery plugin published subtree",
		zap.String("id", id), zap.String("realm", p.reg.Realm), zap.Int("nodes", len(nodes)))
	return nil
}

// Deregister removes the plugin and its realm.
func (r *Registry) Deregister(id, token string) error {
	p, err := r.lock(id)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if err := r.authenticate(p, token); err != nil {
		return err
	}
	r.removeLocked(p, "deregistered")
	return nil
}

// Get returns a registered plugin.
func (r *Registry) Get(id string) (models.PluginRegistration, error) {
	r.mu.RLock()
	p, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return models.PluginRegistration{}, fmt.Errorf("%w: discovery plugin %s", models.ErrNotFound, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reg := p.reg
	reg.Callback = redact(reg.Callback)
	return reg, nil
}

// List returns all registered plugins ordered by realm.
func (r *Registry) List() []models.PluginRegistration {
	r.mu.RLock()
	list := make([]*plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		list = append(list, p)
	}
	r.mu.RUnlock()

	out := make([]models.PluginRegistration, 0, len(list))
	for _, p := range list {
		p.mu.Lock()
		reg := p.reg
		p.mu.Unlock()
		reg.Callback = redact(reg.Callback)
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Realm < out[j].Realm })
	return out
}

// Run pings every plugin callback each ping period until ctx is done.
// Plugins whose callback fails are deregistered.
func (r *Registry) Run(ctx context.Context) {
	if r.pingPeriod <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PingAll(ctx)
		}
	}
}

// PingAll pings every registered plugin once and evicts the unresponsive.
func (r *Registry) PingAll(ctx context.Context) {
	r.mu.RLock()
	list := make([]*plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		list = append(list, p)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pingConcurrency)
	for _, p := range list {
		p := p
		g.Go(func() error {
			p.mu.Lock()
			reg := p.reg
			p.mu.Unlock()
			if err := r.ping(gctx, reg.Callback); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("discovery plugin callback failed, deregistering",
					zap.String("id", reg.ID), zap.String("realm", reg.Realm), zap.Error(err))
				r.evict(p)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) ping(ctx context.Context, callback string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Registry) evict(p *plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return
	}
	r.removeLocked(p, "evicted")
}

// lock returns the live plugin with its mutex held.
func (r *Registry) lock(id string) (*plugin, error) {
	r.mu.RLock()
	p, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: discovery plugin %s", models.ErrNotFound, id)
	}
	p.mu.Lock()
	if p.removed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: discovery plugin %s", models.ErrNotFound, id)
	}
	return p, nil
}

// authenticate checks that token is the plugin's current token.
func (r *Registry) authenticate(p *plugin, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", models.ErrUnauthorized)
	}
	claims, err := r.tokens.Validate(token)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	return r.owns(p, claims)
}

func (r *Registry) owns(p *plugin, claims *auth.PluginClaims) error {
	if claims.Subject != p.reg.ID || claims.ID != p.jti || claims.Realm != p.reg.Realm {
		return fmt.Errorf("%w: token does not belong to plugin %s", models.ErrUnauthorized, p.reg.ID)
	}
	return nil
}

func (r *Registry) removeLocked(p *plugin, reason string) {
	p.removed = true
	r.mu.Lock()
	delete(r.plugins, p.reg.ID)
	r.mu.Unlock()

	if err := r.tree.RemoveRealm(p.reg.Realm); err != nil && !errors.Is(err, models.ErrNotFound) {
		r.logger.Error("failed to remove plugin realm", zap.String("realm", p.reg.Realm), zap.Error(err))
	}
	r.logger.Info("discovery plugin removed",
		zap.String("id", p.reg.ID), zap.String("realm", p.reg.Realm), zap.String("reason", reason))
	metrics.PluginRegistrations.WithLabelValues(reason).Inc()
	r.sink.Publish(notify.CategoryPluginDeregistered, Event{
		ID:       p.reg.ID,
		Realm:    p.reg.Realm,
		Callback: redact(p.reg.Callback),
		Reason:   reason,
	})
}

func validateCallback(callback string) error {
	u, err := url.ParseRequestURI(callback)
	if err != nil {
		return fmt.Errorf("%w: callback: %v", models.ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: callback must be an http or https URI", models.ErrInvalid)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: callback has no host", models.ErrInvalid)
	}
	return nil
}

// redact hides callback userinfo, which plugins use to carry credentials.
func redact(callback string) string {
	u, err := url.Parse(callback)
	if err != nil || u.User == nil {
		return callback
	}
	return u.Redacted()
}
