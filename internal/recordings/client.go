package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"

	"evalgo.org/flightdeck/models"
)

// Errors surfaced by recording-control clients. ErrAuthRequired is kept
// apart from models.ErrUnauthorized: it means the target wants JMX
// credentials that no stored credential provides.
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrBadTemplate       = fmt.Errorf("%w: unknown event template", models.ErrInvalid)
)

// Client controls recordings on one target.
type Client interface {
	// List returns every recording present in the target.
	List(ctx context.Context) ([]models.ActiveRecording, error)
	// Start creates and starts a recording. It fails with models.ErrConflict
	// when a recording with the same name exists.
	Start(ctx context.Context, opts models.RecordingOptions) (models.ActiveRecording, error)
	Stop(ctx context.Context, id int64) (models.ActiveRecording, error)
	Delete(ctx context.Context, id int64) error
	// Snapshot creates a stopped recording holding the events of every
	// running recording.
	Snapshot(ctx context.Context) (models.ActiveRecording, error)
	// Download streams the recording's data.
	Download(ctx context.Context, id int64) (io.ReadCloser, error)
}

// Connector opens clients for targets.
type Connector interface {
	Connect(ctx context.Context, target models.Target) (Client, error)
}

// CredentialLookup finds the stored credential applying to a target.
type CredentialLookup interface {
	CredentialFor(target models.Target) (models.Credential, bool)
}

// ArchiveStore persists archived recordings.
type ArchiveStore interface {
	Save(target models.Target, recording string, data io.Reader, labels map[string]string) (models.ArchivedRecording, error)
	Delete(name string) error
	List() ([]models.ArchivedRecording, error)
}
