package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/scheduler"
	"evalgo.org/flightdeck/internal/storage"
	"evalgo.org/flightdeck/models"
)

// cleanupConcurrency bounds parallel stop commands during rule cleanup.
const cleanupConcurrency = 8

// Recorder is the part of the recording orchestrator the engine drives.
type Recorder interface {
	Start(ctx context.Context, target models.Target, opts models.RecordingOptions) (models.ActiveRecording, error)
	Stop(ctx context.Context, target models.Target, name string) (models.ActiveRecording, error)
	ArchiveRetained(ctx context.Context, target models.Target, name, retentionKey string, keep int) (models.ArchivedRecording, error)
	ForgetRetention(prefix string)
}

// TargetSource is the part of the discovery tree the engine reads.
type TargetSource interface {
	Targets() []models.Target
	FindTarget(connectURL string) (models.Target, error)
	Subscribe() *discovery.Subscription
}

// Options configure an Engine.
type Options struct {
	Store     storage.RuleStore
	Targets   TargetSource
	Evaluator *matchexpr.Evaluator
	Recorder  Recorder
	Scheduler *scheduler.Scheduler
	Sink      notify.Sink
	Logger    *zap.Logger
	// CommandTimeout bounds each recording command issued by a rule
	CommandTimeout time.Duration
}

// FailureEvent is the RuleExecutionFailed payload.
type FailureEvent struct {
	Rule   string `json:"rule"`
	Target string `json:"target"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

// Engine owns rule definitions and their activations on targets.
//
// Each (rule, target) activation is an independent scheduled task: a
// one-shot start after the rule's initial delay, followed by a periodic
// archival task when the rule archives. Disabling or deleting a rule and
// losing a target cancel those tasks synchronously.
type Engine struct {
	store     storage.RuleStore
	targets   TargetSource
	evaluator *matchexpr.Evaluator
	recorder  Recorder
	sched     *scheduler.Scheduler
	sink      notify.Sink
	logger    *zap.Logger
	timeout   time.Duration

	// opMu serializes rule mutations so store and cache stay in step
	opMu sync.Mutex

	mu       sync.RWMutex
	rules    map[string]*models.Rule
	active   map[string]map[string]uint64 // rule -> connectUrl -> activation generation
	starting map[string]*sync.WaitGroup   // rule -> start commands in flight
	gen      uint64
}

// New creates an engine. Call Load before Run.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.Evaluator == nil {
		opts.Evaluator = matchexpr.NewEvaluator()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(opts.Logger)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	return &Engine{
		store:     opts.Store,
		targets:   opts.Targets,
		evaluator: opts.Evaluator,
		recorder:  opts.Recorder,
		sched:     opts.Scheduler,
		sink:      opts.Sink,
		logger:    opts.Logger.Named("rules"),
		timeout:   opts.CommandTimeout,
		rules:     make(map[string]*models.Rule),
		active:    make(map[string]map[string]uint64),
		starting:  make(map[string]*sync.WaitGroup),
	}
}

func taskPrefix(rule string) string {
	return "rule:" + rule + "\x00"
}

func startKey(rule, url string) string {
	return taskPrefix(rule) + "start\x00" + url
}

func archiveKey(rule, url string) string {
	return taskPrefix(rule) + "archive\x00" + url
}

// RetentionKey identifies the archives a rule keeps for one target.
func RetentionKey(rule, url string) string {
	return retentionPrefix(rule) + url
}

func retentionPrefix(rule string) string {
	return "rule:" + rule + "\x00"
}

// Load reads rule definitions from the store. Activation of enabled rules
// happens when Run starts.
func (e *Engine) Load() error {
	rules, err := e.store.ListRules()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rules {
		if err := e.evaluator.Validate(r.MatchExpression); err != nil {
			e.logger.Warn("stored rule has an invalid match expression; it will not be applied",
				zap.String("rule", r.Name), zap.Error(err))
		}
		e.rules[r.Name] = r
	}
	return nil
}

// Run applies enabled rules to the current tree and then to every target
// event until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	sub := e.targets.Subscribe()
	defer sub.Close()

	for _, r := range e.enabledRules() {
		e.activateAll(r)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			switch ev.Kind {
			case discovery.EventFound, discovery.EventModified:
				e.onTarget(ev.Target)
			case discovery.EventLost:
				// Another realm may still serve the same connect URL
				if t, err := e.targets.FindTarget(ev.Target.ConnectURL); err == nil {
					e.onTarget(t)
				} else {
					e.onLost(ev.Target)
				}
			}
		}
	}
}

func (e *Engine) enabledRules() []models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) onTarget(target models.Target) {
	for _, r := range e.enabledRules() {
		matched, err := e.evaluator.Evaluate(r.MatchExpression, target)
		if err != nil {
			continue
		}
		if matched {
			e.activate(r, target)
		} else {
			e.deactivate(r.Name, target.ConnectURL)
		}
	}
}

func (e *Engine) onLost(target models.Target) {
	e.mu.RLock()
	names := make([]string, 0, len(e.active))
	for name, targets := range e.active {
		if _, ok := targets[target.ConnectURL]; ok {
			names = append(names, name)
		}
	}
	e.mu.RUnlock()
	for _, name := range names {
		e.deactivate(name, target.ConnectURL)
	}
}

// activateAll applies rule to every current target it matches.
func (e *Engine) activateAll(rule models.Rule) {
	matched, err := e.evaluator.Filter(rule.MatchExpression, e.targets.Targets())
	if err != nil {
		e.logger.Warn("cannot apply rule", zap.String("rule", rule.Name), zap.Error(err))
		return
	}
	for _, t := range matched {
		e.activate(rule, t)
	}
}

// activate schedules the start of rule's recording on target unless the
// pair is already active.
func (e *Engine) activate(rule models.Rule, target models.Target) {
	url := target.ConnectURL

	e.mu.Lock()
	if _, ok := e.active[rule.Name][url]; ok {
		e.mu.Unlock()
		return
	}
	if e.active[rule.Name] == nil {
		e.active[rule.Name] = make(map[string]uint64)
	}
	e.gen++
	gen := e.gen
	e.active[rule.Name][url] = gen
	e.mu.Unlock()

	delay := time.Duration(rule.InitialDelaySeconds) * time.Second
	err := e.sched.Once(startKey(rule.Name, url), delay, func(ctx context.Context) {
		e.startRecording(ctx, rule, target, gen)
	})
	if err != nil {
		e.logger.Warn("failed to schedule rule activation",
			zap.String("rule", rule.Name), zap.String("target", url), zap.Error(err))
	}
}

func (e *Engine) startRecording(ctx context.Context, rule models.Rule, target models.Target, gen uint64) {
	// deactivateRule waits for starts registered here
	e.mu.Lock()
	if e.active[rule.Name][target.ConnectURL] != gen {
		e.mu.Unlock()
		return
	}
	wg := e.starting[rule.Name]
	if wg == nil {
		wg = &sync.WaitGroup{}
		e.starting[rule.Name] = wg
	}
	wg.Add(1)
	e.mu.Unlock()
	defer wg.Done()

	opts, err := RecordingOptions(&rule)
	if err != nil {
		e.fail(rule.Name, target, "start", err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	_, err = e.recorder.Start(cctx, target, opts)
	cancel()
	switch {
	case err == nil:
		metrics.RuleActivations.WithLabelValues(rule.Name, metrics.ResultOK).Inc()
		e.logger.Info("rule started recording",
			zap.String("rule", rule.Name),
			zap.String("target", target.ConnectURL),
			zap.String("recording", opts.Name))
	case errors.Is(err, models.ErrConflict):
		// Still running from an earlier activation
		e.logger.Debug("rule recording already running",
			zap.String("rule", rule.Name), zap.String("target", target.ConnectURL))
	default:
		e.fail(rule.Name, target, "start", err)
		return
	}

	if !rule.HasArchival() {
		return
	}

	period := time.Duration(rule.ArchivalPeriodSeconds) * time.Second
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[rule.Name][target.ConnectURL] != gen {
		return
	}
	err = e.sched.Schedule(archiveKey(rule.Name, target.ConnectURL), period, period, func(ctx context.Context) {
		e.archive(ctx, rule, target)
	})
	if err != nil {
		e.logger.Warn("failed to schedule archival",
			zap.String("rule", rule.Name), zap.String("target", target.ConnectURL), zap.Error(err))
	}
}

func (e *Engine) archive(ctx context.Context, rule models.Rule, target models.Target) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	_, err := e.recorder.ArchiveRetained(ctx, target, rule.RecordingName(),
		RetentionKey(rule.Name, target.ConnectURL), rule.PreservedArchives)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		e.fail(rule.Name, target, "archive", err)
	}
}

// deactivate forgets one activation and cancels its tasks.
func (e *Engine) deactivate(rule, url string) {
	e.mu.Lock()
	if _, ok := e.active[rule][url]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active[rule], url)
	if len(e.active[rule]) == 0 {
		delete(e.active, rule)
	}
	e.mu.Unlock()

	e.sched.Cancel(startKey(rule, url))
	e.sched.Cancel(archiveKey(rule, url))
}

// deactivateRule forgets every activation of rule, cancels its tasks and
// waits for start commands already in flight. It returns the connect URLs
// that were active.
func (e *Engine) deactivateRule(rule string) []string {
	e.mu.Lock()
	urls := make([]string, 0, len(e.active[rule]))
	for url := range e.active[rule] {
		urls = append(urls, url)
	}
	delete(e.active, rule)
	inflight := e.starting[rule]
	delete(e.starting, rule)
	e.mu.Unlock()

	e.sched.CancelPrefix(taskPrefix(rule))
	if inflight != nil {
		inflight.Wait()
	}
	sort.Strings(urls)
	return urls
}

func (e *Engine) fail(rule string, target models.Target, action string, err error) {
	metrics.RuleActivations.WithLabelValues(rule, metrics.ResultError).Inc()
	e.logger.Warn("rule action failed",
		zap.String("rule", rule),
		zap.String("target", target.ConnectURL),
		zap.String("action", action),
		zap.Error(err))
	e.sink.Publish(notify.CategoryRuleFailed, FailureEvent{
		Rule:   rule,
		Target: target.ConnectURL,
		Action: action,
		Error:  err.Error(),
	})
}

// cleanup stops the rule's recording on every target it was active on or
// currently matches, archiving it first when the rule archives. Failures
// are reported per target and never abort the others.
func (e *Engine) cleanup(ctx context.Context, rule models.Rule, activeURLs []string) {
	targets := make(map[string]models.Target)
	for _, t := range e.targets.Targets() {
		targets[t.ConnectURL] = t
	}
	selected := make(map[string]models.Target)
	for _, url := range activeURLs {
		if t, ok := targets[url]; ok {
			selected[url] = t
		}
	}
	if matched, err := e.evaluator.Filter(rule.MatchExpression, e.targets.Targets()); err == nil {
		for _, t := range matched {
			selected[t.ConnectURL] = t
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, target := range selected {
		target := target
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			if _, err := e.recorder.Stop(cctx, target, rule.RecordingName()); err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					e.fail(rule.Name, target, "stop", err)
				}
				return nil
			}
			if rule.HasArchival() {
				if _, err := e.recorder.ArchiveRetained(cctx, target, rule.RecordingName(),
					RetentionKey(rule.Name, target.ConnectURL), rule.PreservedArchives); err != nil {
					e.fail(rule.Name, target, "archive", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Create validates and persists a rule, activating it when enabled.
func (e *Engine) Create(rule models.Rule) (models.Rule, error) {
	if err := Normalize(&rule, e.evaluator); err != nil {
		return models.Rule{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	stored := rule
	if err := e.store.CreateRule(&stored); err != nil {
		return models.Rule{}, err
	}
	e.mu.Lock()
	e.rules[stored.Name] = &stored
	e.mu.Unlock()

	e.logger.Info("rule created", zap.String("rule", stored.Name), zap.Bool("enabled", stored.Enabled))
	e.sink.Publish(notify.CategoryRuleCreated, stored)
	if stored.Enabled {
		e.activateAll(stored)
	}
	return stored, nil
}

// Get returns a rule by name.
func (e *Engine) Get(name string) (models.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[name]
	if !ok {
		return models.Rule{}, fmt.Errorf("%w: rule %q", models.ErrNotFound, name)
	}
	return *r, nil
}

// List returns all rules sorted by name.
func (e *Engine) List() []models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled enables or disables a rule. Enabling re-evaluates the rule
// against every current target. Disabling suppresses future activations and,
// when clean is set, stops the recordings the rule created.
func (e *Engine) SetEnabled(ctx context.Context, name string, enabled, clean bool) (models.Rule, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	current, err := e.Get(name)
	if err != nil {
		return models.Rule{}, err
	}
	if current.Enabled == enabled {
		if !enabled && clean {
			e.cleanup(ctx, current, nil)
		}
		return current, nil
	}

	updated := current
	updated.Enabled = enabled
	if err := e.store.UpdateRule(&updated); err != nil {
		return models.Rule{}, err
	}
	e.mu.Lock()
	e.rules[name] = &updated
	e.mu.Unlock()

	e.logger.Info("rule updated", zap.String("rule", name), zap.Bool("enabled", enabled))
	e.sink.Publish(notify.CategoryRuleUpdated, updated)

	if enabled {
		e.activateAll(updated)
		return updated, nil
	}
	urls := e.deactivateRule(name)
	if clean {
		e.cleanup(ctx, updated, urls)
	}
	return updated, nil
}

// Delete removes a rule. When clean is set the rule's recordings are stopped.
func (e *Engine) Delete(ctx context.Context, name string, clean bool) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	current, err := e.Get(name)
	if err != nil {
		return err
	}
	if err := e.store.DeleteRule(name); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.rules, name)
	e.mu.Unlock()

	urls := e.deactivateRule(name)
	if clean {
		e.cleanup(ctx, current, urls)
	}
	e.recorder.ForgetRetention(retentionPrefix(name))

	e.logger.Info("rule deleted", zap.String("rule", name), zap.Bool("clean", clean))
	e.sink.Publish(notify.CategoryRuleDeleted, current)
	return nil
}

// Active returns the connect URLs a rule is currently active on.
func (e *Engine) Active(name string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.active[name]))
	for url := range e.active[name] {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}
