// Package recordings orchestrates JFR recordings on targets: the replace
// policy state machine, archive-on-stop, snapshots and archive retention.
//
// The target itself is the source of truth for recording state. Commands
// for the same (target, recording name) pair are serialized, so concurrent
// start requests resolve deterministically through the replace policy.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/scheduler"
	"evalgo.org/flightdeck/models"
)

// Event payloads published to the notification sink.
type (
	// RecordingEvent describes an active recording change.
	RecordingEvent struct {
		Recording models.ActiveRecording `json:"recording"`
		Target    string                 `json:"target"`
		JvmID     string                 `json:"jvmId"`
	}
	// ArchiveEvent describes an archived recording change.
	ArchiveEvent struct {
		Recording models.ArchivedRecording `json:"recording"`
		Target    string                   `json:"target"`
	}
)

// TargetSource is the part of the discovery tree Run watches.
type TargetSource interface {
	FindTarget(connectURL string) (models.Target, error)
	Subscribe() *discovery.Subscription
}

// Options configure an Orchestrator.
type Options struct {
	Connector Connector
	Archives  ArchiveStore
	Scheduler *scheduler.Scheduler
	Sink      notify.Sink
	Logger    *zap.Logger
	// CommandTimeout bounds background commands (expiry archival)
	CommandTimeout time.Duration
}

// Orchestrator drives recording commands against targets.
type Orchestrator struct {
	connector Connector
	archives  ArchiveStore
	sched     *scheduler.Scheduler
	sink      notify.Sink
	logger    *zap.Logger
	timeout   time.Duration
	locks     *keyedMutex

	mu            sync.Mutex
	archiveOnStop map[string]bool     // recordingKey -> flag set at start
	retained      map[string][]string // retention key -> archive names, oldest first
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(opts.Logger)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	return &Orchestrator{
		connector:     opts.Connector,
		archives:      opts.Archives,
		sched:         opts.Scheduler,
		sink:          opts.Sink,
		logger:        opts.Logger.Named("recordings"),
		timeout:       opts.CommandTimeout,
		locks:         newKeyedMutex(),
		archiveOnStop: make(map[string]bool),
		retained:      make(map[string][]string),
	}
}

func recordingKey(connectURL, name string) string {
	return connectURL + "\x00" + name
}

func expiryKey(connectURL, name string) string {
	return "expiry:" + connectURL + "\x00" + name
}

// ConflictError is the error returned when the replace policy forbids a start.
func ConflictError(name string) error {
	return fmt.Errorf("%w: Recording with name \"%s\" already exists", models.ErrConflict, name)
}

// List returns the recordings present in the target.
func (o *Orchestrator) List(ctx context.Context, target models.Target) ([]models.ActiveRecording, error) {
	c, err := o.connector.Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	recs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	for i := range recs {
		recs[i].ArchiveOnStop = recs[i].ArchiveOnStop || o.archiveOnStop[recordingKey(target.ConnectURL, recs[i].Name)]
	}
	o.mu.Unlock()
	return recs, nil
}

// Get returns one recording by name.
func (o *Orchestrator) Get(ctx context.Context, target models.Target, name string) (models.ActiveRecording, error) {
	recs, err := o.List(ctx, target)
	if err != nil {
		return models.ActiveRecording{}, err
	}
	if rec, ok := findByName(recs, name); ok {
		return rec, nil
	}
	return models.ActiveRecording{}, fmt.Errorf("%w: recording %q on %s", models.ErrNotFound, name, target.ConnectURL)
}

// Start applies the replace policy and starts a recording:
//
//	existing   ALWAYS          STOPPED         NEVER
//	none       start           start           start
//	running    stop, replace   conflict        conflict
//	stopped    replace         replace         conflict
func (o *Orchestrator) Start(ctx context.Context, target models.Target, opts models.RecordingOptions) (models.ActiveRecording, error) {
	if opts.Name == "" {
		return models.ActiveRecording{}, fmt.Errorf("%w: recording name is required", models.ErrInvalid)
	}
	if opts.Replace == "" {
		opts.Replace = models.ReplaceNever
	}
	unlock := o.locks.Lock(recordingKey(target.ConnectURL, opts.Name))
	defer unlock()

	c, err := o.connector.Connect(ctx, target)
	if err != nil {
		return models.ActiveRecording{}, err
	}
	recs, err := c.List(ctx)
	if err != nil {
		return models.ActiveRecording{}, err
	}

	if existing, ok := findByName(recs, opts.Name); ok {
		running := existing.State == models.RecordingRunning
		switch {
		case opts.Replace == models.ReplaceNever,
			opts.Replace == models.ReplaceStopped && running:
			return models.ActiveRecording{}, ConflictError(opts.Name)
		}
		if running {
			if _, err := c.Stop(ctx, existing.ID); err != nil {
				return models.ActiveRecording{}, fmt.Errorf("failed to stop %q before replacing it: %w", opts.Name, err)
			}
		}
		if err := c.Delete(ctx, existing.ID); err != nil {
			return models.ActiveRecording{}, fmt.Errorf("failed to delete %q before replacing it: %w", opts.Name, err)
		}
		o.forget(target.ConnectURL, opts.Name)
	}

	rec, err := c.Start(ctx, opts)
	metrics.RecordingOperations.WithLabelValues("start", metrics.Result(err)).Inc()
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ActiveRecording{}, ConflictError(opts.Name)
		}
		return models.ActiveRecording{}, err
	}
	rec.ArchiveOnStop = opts.ArchiveOnStop

	if opts.ArchiveOnStop {
		o.mu.Lock()
		o.archiveOnStop[recordingKey(target.ConnectURL, opts.Name)] = true
		o.mu.Unlock()
		if opts.Duration > 0 {
			o.scheduleExpiry(target, opts.Name, time.Duration(opts.Duration)*time.Second)
		}
	}

	o.logger.Info("recording started",
		zap.String("target", target.ConnectURL),
		zap.String("recording", rec.Name),
		zap.String("template", opts.Template.Name),
		zap.String("replace", string(opts.Replace)))
	o.sink.Publish(notify.CategoryActiveRecordingCreated, RecordingEvent{Recording: rec, Target: target.ConnectURL, JvmID: target.JvmID})
	return rec, nil
}

// scheduleExpiry archives a fixed-duration recording once it has run its
// course.
func (o *Orchestrator) scheduleExpiry(target models.Target, name string, d time.Duration) {
	err := o.sched.Once(expiryKey(target.ConnectURL, name), d, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		if _, err := o.Stop(ctx, target, name); err != nil && !errors.Is(err, models.ErrNotFound) {
			o.logger.Warn("archive on expiry failed",
				zap.String("target", target.ConnectURL), zap.String("recording", name), zap.Error(err))
		}
	})
	if err != nil {
		o.logger.Warn("failed to schedule recording expiry", zap.String("recording", name), zap.Error(err))
	}
}

// Stop stops a recording. When it was started with archiveOnStop, it is
// archived before Stop returns.
func (o *Orchestrator) Stop(ctx context.Context, target models.Target, name string) (models.ActiveRecording, error) {
	unlock := o.locks.Lock(recordingKey(target.ConnectURL, name))
	defer unlock()

	c, existing, err := o.lookup(ctx, target, name)
	if err != nil {
		return models.ActiveRecording{}, err
	}
	o.sched.Cancel(expiryKey(target.ConnectURL, name))

	rec := existing
	if existing.State == models.RecordingRunning {
		rec, err = c.Stop(ctx, existing.ID)
		metrics.RecordingOperations.WithLabelValues("stop", metrics.Result(err)).Inc()
		if err != nil {
			return models.ActiveRecording{}, err
		}
		o.sink.Publish(notify.CategoryActiveRecordingStopped, RecordingEvent{Recording: rec, Target: target.ConnectURL, JvmID: target.JvmID})
	}

	o.mu.Lock()
	archive := o.archiveOnStop[recordingKey(target.ConnectURL, name)]
	delete(o.archiveOnStop, recordingKey(target.ConnectURL, name))
	o.mu.Unlock()
	if archive {
		if _, err := o.archiveLocked(ctx, c, target, rec); err != nil {
			return rec, fmt.Errorf("recording stopped but archiving failed: %w", err)
		}
	}
	return rec, nil
}

// Delete removes a recording from the target.
func (o *Orchestrator) Delete(ctx context.Context, target models.Target, name string) error {
	unlock := o.locks.Lock(recordingKey(target.ConnectURL, name))
	defer unlock()

	c, existing, err := o.lookup(ctx, target, name)
	if err != nil {
		return err
	}
	o.sched.Cancel(expiryKey(target.ConnectURL, name))
	err = c.Delete(ctx, existing.ID)
	metrics.RecordingOperations.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	o.forget(target.ConnectURL, name)
	o.sink.Publish(notify.CategoryActiveRecordingDeleted, RecordingEvent{Recording: existing, Target: target.ConnectURL, JvmID: target.JvmID})
	return nil
}

// Archive copies a recording's current data into the archive store.
func (o *Orchestrator) Archive(ctx context.Context, target models.Target, name string) (models.ArchivedRecording, error) {
	unlock := o.locks.Lock(recordingKey(target.ConnectURL, name))
	defer unlock()

	c, existing, err := o.lookup(ctx, target, name)
	if err != nil {
		return models.ArchivedRecording{}, err
	}
	return o.archiveLocked(ctx, c, target, existing)
}

// ArchiveRetained archives a recording and then evicts the oldest archives
// recorded under retentionKey until at most keep remain.
func (o *Orchestrator) ArchiveRetained(ctx context.Context, target models.Target, name, retentionKey string, keep int) (models.ArchivedRecording, error) {
	archived, err := o.Archive(ctx, target, name)
	if err != nil {
		return archived, err
	}

	o.mu.Lock()
	list := append(o.retained[retentionKey], archived.Name)
	var evict []string
	if keep >= 0 && len(list) > keep {
		evict = slices.Clone(list[:len(list)-keep])
		list = slices.Clone(list[len(list)-keep:])
	}
	o.retained[retentionKey] = list
	o.mu.Unlock()

	for _, old := range evict {
		if err := o.DeleteArchive(old); err != nil && !errors.Is(err, models.ErrNotFound) {
			o.logger.Warn("failed to prune archive", zap.String("archive", old), zap.Error(err))
		}
	}
	return archived, nil
}

// Retained returns the archive names tracked under retentionKey, oldest first.
func (o *Orchestrator) Retained(retentionKey string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.retained[retentionKey])
}

// ForgetRetention drops the retention bookkeeping of every key starting
// with prefix. Archives stay.
func (o *Orchestrator) ForgetRetention(prefix string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.retained {
		if strings.HasPrefix(k, prefix) {
			delete(o.retained, k)
		}
	}
}

func (o *Orchestrator) archiveLocked(ctx context.Context, c Client, target models.Target, rec models.ActiveRecording) (models.ArchivedRecording, error) {
	if o.archives == nil {
		return models.ArchivedRecording{}, fmt.Errorf("no archive store configured")
	}
	data, err := c.Download(ctx, rec.ID)
	if err != nil {
		metrics.RecordingOperations.WithLabelValues("archive", metrics.ResultError).Inc()
		return models.ArchivedRecording{}, err
	}
	defer data.Close()

	archived, err := o.archives.Save(target, rec.Name, data, rec.Metadata.Labels)
	metrics.RecordingOperations.WithLabelValues("archive", metrics.Result(err)).Inc()
	if err != nil {
		return models.ArchivedRecording{}, err
	}
	o.logger.Info("recording archived",
		zap.String("target", target.ConnectURL), zap.String("recording", rec.Name), zap.String("archive", archived.Name))
	o.sink.Publish(notify.CategoryArchivedRecordingCreated, ArchiveEvent{Recording: archived, Target: target.ConnectURL})
	return archived, nil
}

// Snapshot captures the events of every running recording into a new
// recording. With nothing running, the snapshot is deleted again and kept
// is false.
func (o *Orchestrator) Snapshot(ctx context.Context, target models.Target) (rec models.ActiveRecording, kept bool, err error) {
	c, err := o.connector.Connect(ctx, target)
	if err != nil {
		return rec, false, err
	}
	recs, err := c.List(ctx)
	if err != nil {
		return rec, false, err
	}
	running := 0
	for _, r := range recs {
		if r.State == models.RecordingRunning {
			running++
		}
	}

	rec, err = c.Snapshot(ctx)
	metrics.RecordingOperations.WithLabelValues("snapshot", metrics.Result(err)).Inc()
	if err != nil {
		return rec, false, err
	}
	if running == 0 {
		if err := c.Delete(ctx, rec.ID); err != nil {
			return rec, false, fmt.Errorf("failed to discard empty snapshot: %w", err)
		}
		o.logger.Debug("discarded empty snapshot", zap.String("target", target.ConnectURL))
		return rec, false, nil
	}
	o.sink.Publish(notify.CategorySnapshotCreated, RecordingEvent{Recording: rec, Target: target.ConnectURL, JvmID: target.JvmID})
	return rec, true, nil
}

// ListArchives returns every archived recording.
func (o *Orchestrator) ListArchives() ([]models.ArchivedRecording, error) {
	if o.archives == nil {
		return nil, nil
	}
	return o.archives.List()
}

// DeleteArchive removes an archived recording.
func (o *Orchestrator) DeleteArchive(name string) error {
	if o.archives == nil {
		return fmt.Errorf("%w: archive %q", models.ErrNotFound, name)
	}
	if err := o.archives.Delete(name); err != nil {
		return err
	}
	o.sink.Publish(notify.CategoryArchivedRecordingDeleted, map[string]string{"name": name})
	return nil
}

// ForgetTarget drops all state held for a lost target and cancels its
// pending expiry tasks.
func (o *Orchestrator) ForgetTarget(connectURL string) {
	o.sched.CancelPrefix("expiry:" + connectURL + "\x00")
	prefix := connectURL + "\x00"
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.archiveOnStop {
		if strings.HasPrefix(k, prefix) {
			delete(o.archiveOnStop, k)
		}
	}
}

// Run forgets targets as the discovery tree loses them until ctx is done.
// A connect URL still served by another realm is kept.
func (o *Orchestrator) Run(ctx context.Context, targets TargetSource) {
	sub := targets.Subscribe()
	defer sub.Close()

	// Targets lost before the subscription was in place
	o.mu.Lock()
	urls := make(map[string]bool)
	for k := range o.archiveOnStop {
		urls[k[:strings.IndexByte(k, 0)]] = true
	}
	o.mu.Unlock()
	for url := range urls {
		if _, err := targets.FindTarget(url); err != nil {
			o.ForgetTarget(url)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.Kind != discovery.EventLost {
				continue
			}
			if _, err := targets.FindTarget(ev.Target.ConnectURL); err == nil {
				continue
			}
			o.logger.Debug("forgetting lost target", zap.String("target", ev.Target.ConnectURL))
			o.ForgetTarget(ev.Target.ConnectURL)
		}
	}
}

func (o *Orchestrator) forget(connectURL, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.archiveOnStop, recordingKey(connectURL, name))
}

func (o *Orchestrator) lookup(ctx context.Context, target models.Target, name string) (Client, models.ActiveRecording, error) {
	c, err := o.connector.Connect(ctx, target)
	if err != nil {
		return nil, models.ActiveRecording{}, err
	}
	recs, err := c.List(ctx)
	if err != nil {
		return nil, models.ActiveRecording{}, err
	}
	rec, ok := findByName(recs, name)
	if !ok {
		return nil, models.ActiveRecording{}, fmt.Errorf("%w: recording %q on %s", models.ErrNotFound, name, target.ConnectURL)
	}
	return c, rec, nil
}

func findByName(recs []models.ActiveRecording, name string) (models.ActiveRecording, bool) {
	for _, r := range recs {
		if r.Name == name {
			return r, true
		}
	}
	return models.ActiveRecording{}, false
}
