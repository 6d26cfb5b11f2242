// Package recordingtest provides an in-memory recording-control client for
// tests.
package recordingtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/models"
)

// Call records one command received by the fake.
type Call struct {
	Target string
	Op     string
	Name   string
}

// Fake is a recordings.Connector whose targets keep recordings in memory.
type Fake struct {
	mu          sync.Mutex
	nextID      int64
	targets     map[string][]models.ActiveRecording
	unreachable map[string]bool
	needsAuth   map[string]bool
	templates   map[string]bool
	delay       time.Duration
	calls       []Call

	// Credentials, when set, is consulted for targets that need auth.
	Credentials recordings.CredentialLookup
}

// New creates an empty fake that accepts every template.
func New() *Fake {
	return &Fake{
		targets:     make(map[string][]models.ActiveRecording),
		unreachable: make(map[string]bool),
		needsAuth:   make(map[string]bool),
	}
}

// SetUnreachable makes every command against connectURL fail.
func (f *Fake) SetUnreachable(connectURL string, unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[connectURL] = unreachable
}

// RequireAuth makes connectURL demand credentials from Credentials.
func (f *Fake) RequireAuth(connectURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.needsAuth[connectURL] = true
}

// AllowTemplates restricts accepted template names.
func (f *Fake) AllowTemplates(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = map[string]bool{}
	for _, n := range names {
		f.templates[n] = true
	}
}

// SetDelay slows every command down, to widen race windows.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Recordings returns the recordings of a target.
func (f *Fake) Recordings(connectURL string) []models.ActiveRecording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRecordings(f.targets[connectURL])
}

// Calls returns the commands received so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CountCalls counts commands of one kind.
func (f *Fake) CountCalls(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Connect implements recordings.Connector.
func (f *Fake) Connect(_ context.Context, target models.Target) (recordings.Client, error) {
	f.mu.Lock()
	unreachable := f.unreachable[target.ConnectURL]
	needsAuth := f.needsAuth[target.ConnectURL]
	f.mu.Unlock()

	if unreachable {
		return nil, fmt.Errorf("%w: %s", recordings.ErrTargetUnreachable, target.ConnectURL)
	}
	if needsAuth {
		if f.Credentials == nil {
			return nil, fmt.Errorf("%w: %s", recordings.ErrAuthRequired, target.ConnectURL)
		}
		if _, ok := f.Credentials.CredentialFor(target); !ok {
			return nil, fmt.Errorf("%w: %s", recordings.ErrAuthRequired, target.ConnectURL)
		}
	}
	return &client{fake: f, url: target.ConnectURL}, nil
}

type client struct {
	fake *Fake
	url  string
}

func (c *client) enter(op, name string) error {
	f := c.fake
	f.mu.Lock()
	f.calls = append(f.calls, Call{Target: c.url, Op: op, Name: name})
	delay := f.delay
	unreachable := f.unreachable[c.url]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if unreachable {
		return fmt.Errorf("%w: %s", recordings.ErrTargetUnreachable, c.url)
	}
	return nil
}

func (c *client) List(context.Context) ([]models.ActiveRecording, error) {
	if err := c.enter("list", ""); err != nil {
		return nil, err
	}
	return c.fake.Recordings(c.url), nil
}

func (c *client) Start(_ context.Context, opts models.RecordingOptions) (models.ActiveRecording, error) {
	if err := c.enter("start", opts.Name); err != nil {
		return models.ActiveRecording{}, err
	}
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.templates != nil && !f.templates[opts.Template.Name] {
		return models.ActiveRecording{}, fmt.Errorf("%w: %s", recordings.ErrBadTemplate, opts.Template.Name)
	}
	for _, r := range f.targets[c.url] {
		if r.Name == opts.Name {
			return models.ActiveRecording{}, fmt.Errorf("%w: %s", models.ErrConflict, opts.Name)
		}
	}
	f.nextID++
	rec := models.ActiveRecording{
		ID:            f.nextID,
		Name:          opts.Name,
		State:         models.RecordingRunning,
		StartTime:     time.Now().UnixMilli(),
		Duration:      opts.Duration * 1000,
		Continuous:    opts.Duration == 0,
		ToDisk:        opts.ToDisk,
		MaxSize:       opts.MaxSize,
		MaxAge:        opts.MaxAge * 1000,
		ArchiveOnStop: opts.ArchiveOnStop,
		Metadata:      models.Metadata{Labels: maps.Clone(opts.Labels)},
	}
	if rec.Metadata.Labels == nil {
		rec.Metadata.Labels = map[string]string{}
	}
	f.targets[c.url] = append(f.targets[c.url], rec)
	return rec, nil
}

func (c *client) Stop(_ context.Context, id int64) (models.ActiveRecording, error) {
	if err := c.enter("stop", ""); err != nil {
		return models.ActiveRecording{}, err
	}
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.targets[c.url] {
		if r.ID == id {
			f.targets[c.url][i].State = models.RecordingStopped
			return f.targets[c.url][i], nil
		}
	}
	return models.ActiveRecording{}, fmt.Errorf("%w: recording %d", models.ErrNotFound, id)
}

func (c *client) Delete(_ context.Context, id int64) error {
	if err := c.enter("delete", ""); err != nil {
		return err
	}
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.targets[c.url]
	for i, r := range recs {
		if r.ID == id {
			f.targets[c.url] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: recording %d", models.ErrNotFound, id)
}

func (c *client) Snapshot(context.Context) (models.ActiveRecording, error) {
	if err := c.enter("snapshot", ""); err != nil {
		return models.ActiveRecording{}, err
	}
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec := models.ActiveRecording{
		ID:        f.nextID,
		Name:      fmt.Sprintf("snapshot-%d", f.nextID),
		State:     models.RecordingStopped,
		StartTime: time.Now().UnixMilli(),
		ToDisk:    true,
		Metadata:  models.Metadata{Labels: map[string]string{}},
	}
	f.targets[c.url] = append(f.targets[c.url], rec)
	return rec, nil
}

func (c *client) Download(_ context.Context, id int64) (io.ReadCloser, error) {
	if err := c.enter("download", ""); err != nil {
		return nil, err
	}
	for _, r := range c.fake.Recordings(c.url) {
		if r.ID == id {
			return io.NopCloser(bytes.NewReader([]byte(fmt.Sprintf("JFR %s %d", r.Name, r.ID)))), nil
		}
	}
	return nil, fmt.Errorf("%w: recording %d", models.ErrNotFound, id)
}

func cloneRecordings(in []models.ActiveRecording) []models.ActiveRecording {
	out := make([]models.ActiveRecording, len(in))
	for i, r := range in {
		r.Metadata.Labels = maps.Clone(r.Metadata.Labels)
		out[i] = r
	}
	return out
}
