// Package docker discovers JVMs running in local Docker containers.
//
// A container is a target when it carries either
//   - io.cryostat.connectUrl: a full JMX service URL, or
//   - io.cryostat.jmxPort (and optionally io.cryostat.jmxHost): the URL is
//     built as service:jmx:rmi:///jndi/rmi://<host>:<port>/jmxrmi, with the
//     host defaulting to the container's first network address.
//
// The source performs a full sync on startup, on every relevant container
// event and on a fixed interval to catch missed events.
package docker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"eve.evalgo.org/network"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/models"
)

// RealmName is the realm Docker targets live in.
const RealmName = "Docker"

// Container labels read by the source.
const (
	LabelConnectURL = "io.cryostat.connectUrl"
	LabelJMXHost    = "io.cryostat.jmxHost"
	LabelJMXPort    = "io.cryostat.jmxPort"
	labelPrefix     = "io.cryostat."
)

// Platform annotation keys set on Docker targets.
const (
	AnnotationContainerID   = "CONTAINER_ID"
	AnnotationContainerName = "CONTAINER_NAME"
	AnnotationImage         = "IMAGE"
)

// API is the subset of the Docker client the source uses.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// Tree is the part of the discovery tree the source writes to.
type Tree interface {
	RegisterBuiltinRealm(name string) (*models.DiscoveryNode, error)
	SetRealmTargets(realm string, targets []models.Target) error
}

// NewClient connects to the Docker daemon at host, or the environment's
// default when host is empty. An ssh://user@host[:port] host is reached
// through an SSH tunnel to the remote daemon socket, authenticated with the
// key at sshIdentity. The returned close function releases the client and
// any tunnel.
func NewClient(host, sshIdentity string) (*dockerclient.Client, func() error, error) {
	if strings.HasPrefix(host, "ssh://") {
		return newSSHClient(host, sshIdentity)
	}
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		if !strings.Contains(host, "://") {
			host = "unix://" + host
		}
		opts = append(opts, dockerclient.WithHost(host))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, cli.Close, nil
}

func newSSHClient(host, sshIdentity string) (*dockerclient.Client, func() error, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse SSH URL: %w", err)
	}
	username := u.User.Username()
	if username == "" {
		return nil, nil, fmt.Errorf("SSH URL must include username (e.g., ssh://user@host)")
	}
	port := u.Port()
	if port == "" {
		port = "22"
	}
	if sshIdentity == "" {
		sshIdentity = os.Getenv("DOCKER_SSH_IDENTITY")
	}
	if sshIdentity == "" {
		sshIdentity = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
	}

	tunnel, err := network.NewSSHTunnel(net.JoinHostPort(u.Hostname(), port), username, sshIdentity, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SSH tunnel: %w", err)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return tunnel.Dial("unix", "/var/run/docker.sock")
			},
		},
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost("http://docker"),
		dockerclient.WithHTTPClient(httpClient),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		_ = tunnel.Close()
		return nil, nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	closeFn := func() error {
		cerr := cli.Close()
		if err := tunnel.Close(); err != nil {
			return err
		}
		return cerr
	}
	return cli, closeFn, nil
}

// Source mirrors labelled containers into the Docker realm.
type Source struct {
	api          API
	tree         Tree
	syncInterval time.Duration
	logger       *zap.Logger
}

// New creates a Docker discovery source.
func New(api API, tree Tree, syncInterval time.Duration, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	return &Source{api: api, tree: tree, syncInterval: syncInterval, logger: logger.Named("docker")}
}

// Run syncs the realm until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	if _, err := s.tree.RegisterBuiltinRealm(RealmName); err != nil {
		return err
	}
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("initial sync failed", zap.Error(err))
	}

	eventFilter := filters.NewArgs()
	eventFilter.Add("type", string(events.ContainerEventType))
	eventsChan, errChan := s.api.Events(ctx, events.ListOptions{Filters: eventFilter})

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("periodic sync failed", zap.Error(err))
			}
		case err := <-errChan:
			if err == nil || ctx.Err() != nil {
				continue
			}
			s.logger.Warn("event stream error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			eventsChan, errChan = s.api.Events(ctx, events.ListOptions{Filters: eventFilter})
		case event := <-eventsChan:
			if !relevant(event) {
				continue
			}
			s.logger.Debug("container event", zap.String("action", string(event.Action)), zap.String("id", shortID(event.Actor.ID)))
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("sync after event failed", zap.Error(err))
			}
		}
	}
}

func relevant(event events.Message) bool {
	if event.Type != events.ContainerEventType {
		return false
	}
	switch event.Action {
	case events.ActionStart, events.ActionRestart, events.ActionUnPause,
		events.ActionStop, events.ActionPause, events.ActionDie, events.ActionKill, events.ActionDestroy:
		return true
	}
	return false
}

// Sync lists running containers and replaces the realm contents.
func (s *Source) Sync(ctx context.Context) error {
	containers, err := s.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	var targets []models.Target
	for _, c := range containers {
		if c.State != "" && c.State != "running" {
			continue
		}
		if t, ok := TargetFromContainer(c); ok {
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ConnectURL < targets[j].ConnectURL })
	s.logger.Debug("containers synced", zap.Int("containers", len(containers)), zap.Int("targets", len(targets)))
	return s.tree.SetRealmTargets(RealmName, targets)
}

// TargetFromContainer builds a target from a labelled container.
func TargetFromContainer(c container.Summary) (models.Target, bool) {
	url := c.Labels[LabelConnectURL]
	host := c.Labels[LabelJMXHost]
	port := c.Labels[LabelJMXPort]
	if url == "" && port == "" {
		return models.Target{}, false
	}
	if port != "" {
		if _, err := nat.ParsePort(port); err != nil {
			return models.Target{}, false
		}
	}
	if host == "" {
		host = containerAddress(c)
	}
	if url == "" {
		if host == "" {
			return models.Target{}, false
		}
		url = fmt.Sprintf("service:jmx:rmi:///jndi/rmi://%s:%s/jmxrmi", host, port)
	}

	name := shortID(c.ID)
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	t := models.Target{
		ConnectURL: url,
		Alias:      name,
		Labels:     map[string]string{},
		Annotations: models.Annotations{
			Cryostat: map[string]string{},
			Platform: map[string]string{
				AnnotationContainerID:   c.ID,
				AnnotationContainerName: name,
				AnnotationImage:         c.Image,
			},
		},
	}
	for k, v := range c.Labels {
		if !strings.HasPrefix(k, labelPrefix) {
			t.Labels[k] = v
		}
	}
	if host != "" {
		t.Annotations.Cryostat[models.AnnotationHost] = host
	}
	if port != "" {
		t.Annotations.Cryostat[models.AnnotationPort] = port
	}
	return t, true
}

func containerAddress(c container.Summary) string {
	if c.NetworkSettings == nil {
		return ""
	}
	names := make([]string, 0, len(c.NetworkSettings.Networks))
	for n := range c.NetworkSettings.Networks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if ep := c.NetworkSettings.Networks[n]; ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
