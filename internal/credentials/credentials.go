// Package credentials stores JMX credentials keyed by match expressions and
// resolves which credential applies to a target.
//
// The resolver keeps, per stored credential, the set of live targets its
// expression matches. The sets are maintained from discovery tree events so
// listings never rescan the tree. When several credentials match one target
// the lowest id wins and the overlap is reported as a CredentialsConflict
// notification.
package credentials

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/storage"
	"evalgo.org/flightdeck/models"
)

// TargetSource is the part of the discovery tree the resolver reads.
type TargetSource interface {
	Targets() []models.Target
	FindTarget(connectURL string) (models.Target, error)
	Subscribe() *discovery.Subscription
}

// Options configure a Service.
type Options struct {
	Store     storage.CredentialStore
	Targets   TargetSource
	Evaluator *matchexpr.Evaluator
	Sink      notify.Sink
	Logger    *zap.Logger
}

type entry struct {
	cred    models.StoredCredential
	expr    *matchexpr.Expression
	matches map[string]models.Target // connectUrl -> target
}

// StoredEvent is the CredentialsStored/CredentialsDeleted payload.
type StoredEvent struct {
	ID                 int64  `json:"id"`
	MatchExpression    string `json:"matchExpression"`
	NumMatchingTargets int    `json:"numMatchingTargets"`
}

// ConflictEvent reports a target matched by more than one credential.
type ConflictEvent struct {
	Target      string  `json:"target"`
	Credentials []int64 `json:"credentials"`
	Applied     int64   `json:"applied"`
}

// Service is the credential store and resolver.
type Service struct {
	store     storage.CredentialStore
	targets   TargetSource
	evaluator *matchexpr.Evaluator
	sink      notify.Sink
	logger    *zap.Logger

	mu        sync.RWMutex
	entries   []*entry           // sorted by id
	conflicts map[string][]int64 // connectUrl -> matching ids, only when more than one
}

// New creates a resolver. Call Load before serving requests.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.Evaluator == nil {
		opts.Evaluator = matchexpr.NewEvaluator()
	}
	return &Service{
		store:     opts.Store,
		targets:   opts.Targets,
		evaluator: opts.Evaluator,
		sink:      opts.Sink,
		logger:    opts.Logger.Named("credentials"),
		conflicts: make(map[string][]int64),
	}
}

// Load reads stored credentials and computes their match sets against the
// current tree. Stored credentials whose expression no longer compiles are
// skipped with a warning.
func (s *Service) Load() error {
	creds, err := s.store.ListCredentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	entries := make([]*entry, 0, len(creds))
	for _, c := range creds {
		expr, err := s.evaluator.Compile(c.MatchExpression)
		if err != nil {
			s.logger.Warn("skipping stored credential with invalid expression",
				zap.Int64("id", c.ID), zap.Error(err))
			continue
		}
		entries = append(entries, &entry{cred: *c, expr: expr, matches: map[string]models.Target{}})
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.Recompute()
	return nil
}

// Run keeps match sets current from tree events until ctx is done.
func (s *Service) Run(ctx context.Context) {
	sub := s.targets.Subscribe()
	defer sub.Close()

	// Events that raced the subscription are covered by a full pass
	s.Recompute()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.IsTargetEvent() {
				s.apply(ev)
			}
		}
	}
}

// Recompute rebuilds every match set from the current tree.
func (s *Service) Recompute() {
	targets := s.targets.Targets()

	s.mu.Lock()
	for _, e := range s.entries {
		e.matches = make(map[string]models.Target)
		for _, t := range targets {
			if e.expr.Matches(t) {
				e.matches[t.ConnectURL] = t
			}
		}
	}
	changed := s.refreshConflictsLocked(nil)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publishConflicts(changed)
}

func (s *Service) apply(ev discovery.Event) {
	url := ev.Target.ConnectURL
	target, live := ev.Target, true
	if ev.Kind == discovery.EventLost {
		// The same connect URL may still be served by another realm
		var err error
		target, err = s.targets.FindTarget(url)
		live = err == nil
	}

	s.mu.Lock()
	for _, e := range s.entries {
		if live && e.expr.Matches(target) {
			e.matches[url] = target
		} else {
			delete(e.matches, url)
		}
	}
	changed := s.refreshConflictsLocked([]string{url})
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publishConflicts(changed)
}

// refreshConflictsLocked recomputes overlaps for urls (all targets when nil)
// and returns the overlaps that are new or changed.
func (s *Service) refreshConflictsLocked(urls []string) []ConflictEvent {
	byURL := make(map[string][]int64)
	for _, e := range s.entries {
		for url := range e.matches {
			byURL[url] = append(byURL[url], e.cred.ID)
		}
	}

	if urls == nil {
		for url := range s.conflicts {
			urls = append(urls, url)
		}
		for url := range byURL {
			urls = append(urls, url)
		}
	}

	var changed []ConflictEvent
	seen := make(map[string]bool, len(urls))
	for _, url := range urls {
		if seen[url] {
			continue
		}
		seen[url] = true
		ids := byURL[url]
		if len(ids) < 2 {
			delete(s.conflicts, url)
			continue
		}
		if slices.Equal(s.conflicts[url], ids) {
			continue
		}
		s.conflicts[url] = ids
		changed = append(changed, ConflictEvent{Target: url, Credentials: ids, Applied: ids[0]})
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Target < changed[j].Target })
	return changed
}

func (s *Service) publishConflicts(changed []ConflictEvent) {
	for _, c := range changed {
		s.logger.Warn("multiple credentials match target",
			zap.String("target", c.Target),
			zap.Int64s("credentials", c.Credentials),
			zap.Int64("applied", c.Applied))
		s.sink.Publish(notify.CategoryCredentialsConflict, c)
	}
}

func (s *Service) updateGaugesLocked() {
	for _, e := range s.entries {
		metrics.CredentialMatches.WithLabelValues(strconv.FormatInt(e.cred.ID, 10)).Set(float64(len(e.matches)))
	}
}

// Store validates and persists a credential and returns it with its match count.
func (s *Service) Store(matchExpression, username, password string) (models.StoredCredential, error) {
	if strings.TrimSpace(matchExpression) == "" {
		return models.StoredCredential{}, fmt.Errorf("%w: matchExpression must not be blank", models.ErrInvalid)
	}
	if strings.TrimSpace(username) == "" {
		return models.StoredCredential{}, fmt.Errorf("%w: username must not be blank", models.ErrInvalid)
	}
	if strings.TrimSpace(password) == "" {
		return models.StoredCredential{}, fmt.Errorf("%w: password must not be blank", models.ErrInvalid)
	}
	expr, err := s.evaluator.Compile(matchExpression)
	if err != nil {
		return models.StoredCredential{}, err
	}

	cred := &models.StoredCredential{
		MatchExpression: matchExpression,
		Username:        username,
		Password:        password,
	}
	if err := s.store.CreateCredential(cred); err != nil {
		return models.StoredCredential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	e := &entry{cred: *cred, expr: expr, matches: make(map[string]models.Target)}
	for _, t := range s.targets.Targets() {
		if expr.Matches(t) {
			e.matches[t.ConnectURL] = t
		}
	}

	s.mu.Lock()
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].cred.ID >= cred.ID })
	s.entries = slices.Insert(s.entries, idx, e)
	urls := make([]string, 0, len(e.matches))
	for url := range e.matches {
		urls = append(urls, url)
	}
	changed := s.refreshConflictsLocked(urls)
	s.updateGaugesLocked()
	out := e.cred
	out.Password = ""
	out.NumMatchingTargets = len(e.matches)
	s.mu.Unlock()

	s.logger.Info("stored credential", zap.Int64("id", out.ID), zap.Int("matching_targets", out.NumMatchingTargets))
	s.sink.Publish(notify.CategoryCredentialsStored, StoredEvent{
		ID:                 out.ID,
		MatchExpression:    out.MatchExpression,
		NumMatchingTargets: out.NumMatchingTargets,
	})
	s.publishConflicts(changed)
	return out, nil
}

func (s *Service) find(id int64) (*entry, int) {
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].cred.ID >= id })
	if idx < len(s.entries) && s.entries[idx].cred.ID == id {
		return s.entries[idx], idx
	}
	return nil, -1
}

// Get resolves a credential to its expression and currently matching targets.
func (s *Service) Get(id int64) (models.MatchedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, _ := s.find(id)
	if e == nil {
		return models.MatchedCredential{}, fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
	}
	targets := make([]models.Target, 0, len(e.matches))
	for _, t := range e.matches {
		targets = append(targets, t.Clone())
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ConnectURL < targets[j].ConnectURL })
	return models.MatchedCredential{
		ID:              e.cred.ID,
		MatchExpression: e.cred.MatchExpression,
		Targets:         targets,
	}, nil
}

// List returns every credential with its match count. Passwords are omitted.
func (s *Service) List() []models.StoredCredential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StoredCredential, 0, len(s.entries))
	for _, e := range s.entries {
		c := e.cred
		c.Password = ""
		c.NumMatchingTargets = len(e.matches)
		out = append(out, c)
	}
	return out
}

// Delete removes a stored credential.
func (s *Service) Delete(id int64) error {
	s.mu.RLock()
	e, _ := s.find(id)
	s.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
	}

	if err := s.store.DeleteCredential(id); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	s.mu.Lock()
	var event StoredEvent
	var urls []string
	if e, idx := s.find(id); e != nil {
		s.entries = slices.Delete(s.entries, idx, idx+1)
		event = StoredEvent{ID: id, MatchExpression: e.cred.MatchExpression, NumMatchingTargets: len(e.matches)}
		for url := range e.matches {
			urls = append(urls, url)
		}
	}
	changed := s.refreshConflictsLocked(urls)
	s.mu.Unlock()

	metrics.CredentialMatches.DeleteLabelValues(strconv.FormatInt(id, 10))
	s.logger.Info("deleted credential", zap.Int64("id", id))
	s.sink.Publish(notify.CategoryCredentialsDeleted, event)
	s.publishConflicts(changed)
	return nil
}

// CredentialFor returns the credential applying to target: the lowest id
// whose expression matches it.
func (s *Service) CredentialFor(target models.Target) (models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.expr.Matches(target) {
			return models.Credential{Username: e.cred.Username, Password: e.cred.Password}, true
		}
	}
	return models.Credential{}, false
}

// Conflicts returns targets matched by more than one credential.
func (s *Service) Conflicts() map[string][]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]int64, len(s.conflicts))
	for url, ids := range s.conflicts {
		out[url] = slices.Clone(ids)
	}
	return out
}
