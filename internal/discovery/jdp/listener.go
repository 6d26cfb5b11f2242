package jdp

import (
	"context"
	"errors"
	"net"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/models"
)

// missedBroadcasts is how many intervals a JVM may stay silent before it is
// considered lost.
const missedBroadcasts = 3

var rmiHostPort = regexp.MustCompile(`rmi://([^:/]+):(\d+)`)

// RealmSetter is the part of the discovery tree the listener writes to.
type RealmSetter interface {
	SetRealmTargets(realm string, targets []models.Target) error
}

type sighting struct {
	target   models.Target
	lastSeen time.Time
	interval time.Duration
}

// Listener tracks JDP sightings and mirrors them into the JDP realm.
type Listener struct {
	addr   string
	tree   RealmSetter
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]sighting
}

// NewListener creates a listener for the multicast group addr
// (normally 224.0.23.178:7095).
func NewListener(addr string, tree RealmSetter, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		addr:   addr,
		tree:   tree,
		logger: logger.Named("jdp"),
		now:    time.Now,
		seen:   make(map[string]sighting),
	}
}

// Run joins the multicast group and processes packets until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return err
	}
	defer conn.Close()
	l.logger.Info("JDP listener started", zap.String("group", l.addr))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				l.Expire()
				continue
			}
			return err
		}
		packet, err := Decode(buf[:n])
		if err != nil {
			l.logger.Debug("ignoring datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		l.Observe(packet)
		l.Expire()
	}
}

// Observe records a sighting and publishes the realm if it changed.
func (l *Listener) Observe(p Packet) {
	target := TargetFromPacket(p)
	l.mu.Lock()
	prev, known := l.seen[target.ConnectURL]
	l.seen[target.ConnectURL] = sighting{target: target, lastSeen: l.now(), interval: p.BroadcastInterval()}
	changed := !known || prev.target.Alias != target.Alias || prev.target.JvmID != target.JvmID
	l.mu.Unlock()

	if changed {
		l.logger.Info("JVM sighted", zap.String("connectUrl", target.ConnectURL), zap.String("alias", target.Alias))
		l.publish()
	}
}

// Expire drops sightings that missed too many broadcasts.
func (l *Listener) Expire() {
	now := l.now()
	l.mu.Lock()
	var lost []string
	for url, s := range l.seen {
		if now.Sub(s.lastSeen) > missedBroadcasts*s.interval {
			delete(l.seen, url)
			lost = append(lost, url)
		}
	}
	l.mu.Unlock()

	if len(lost) > 0 {
		l.logger.Info("JVMs stopped broadcasting", zap.Strings("connectUrls", lost))
		l.publish()
	}
}

func (l *Listener) publish() {
	l.mu.Lock()
	targets := make([]models.Target, 0, len(l.seen))
	for _, s := range l.seen {
		targets = append(targets, s.target)
	}
	l.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].ConnectURL < targets[j].ConnectURL })

	if err := l.tree.SetRealmTargets(models.RealmJDP, targets); err != nil {
		l.logger.Error("failed to update JDP realm", zap.Error(err))
	}
}

// TargetFromPacket converts a broadcast into a target.
func TargetFromPacket(p Packet) models.Target {
	url := p.ServiceURL()
	t := models.Target{
		JvmID:      p.Entries[KeyUUID],
		ConnectURL: url,
		Alias:      p.Entries[KeyInstanceName],
		Labels:     map[string]string{},
		Annotations: models.Annotations{
			Cryostat: map[string]string{},
			Platform: map[string]string{},
		},
	}
	if main := p.Entries[KeyMainClass]; main != "" {
		t.Annotations.Cryostat[models.AnnotationJavaMain] = main
		if t.Alias == "" {
			t.Alias = main
		}
	}
	if pid := p.Entries[KeyProcessID]; pid != "" {
		t.Annotations.Cryostat[models.AnnotationPID] = pid
	}
	if m := rmiHostPort.FindStringSubmatch(url); m != nil {
		t.Annotations.Cryostat[models.AnnotationHost] = m[1]
		t.Annotations.Cryostat[models.AnnotationPort] = m[2]
	}
	if host := p.Entries[KeyRMIHostname]; host != "" {
		t.Annotations.Cryostat[models.AnnotationHost] = host
	}
	return t
}
