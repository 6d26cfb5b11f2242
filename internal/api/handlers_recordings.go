package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/flightdeck/models"
)

const maxPatchBody = 64

// listRecordings returns the recordings present in a target.
func (s *Server) listRecordings(c echo.Context) error {
	target, err := s.targetParam(c)
	if err != nil {
		return err
	}
	recs, err := s.deps.Recordings.List(c.Request().Context(), target)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []models.ActiveRecording{}
	}
	return c.JSON(http.StatusOK, recs)
}

// startRecording starts a recording, applying the replace policy.
func (s *Server) startRecording(c echo.Context) error {
	target, err := s.targetParam(c)
	if err != nil {
		return err
	}
	var req RecordingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	opts, err := recordingOptions(req)
	if err != nil {
		return err
	}
	rec, err := s.deps.Recordings.Start(c.Request().Context(), target, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func recordingOptions(req RecordingRequest) (models.RecordingOptions, error) {
	tmpl, err := models.ParseEventSpecifier(req.Events)
	if err != nil {
		return models.RecordingOptions{}, err
	}
	replace := models.ReplaceFromRestart(req.Restart)
	if req.Replace != "" {
		if replace, err = models.ParseReplacePolicy(req.Replace); err != nil {
			return models.RecordingOptions{}, err
		}
	}
	toDisk := true
	if req.ToDisk != nil {
		toDisk = *req.ToDisk
	}
	labels := map[string]string{}
	for k, v := range req.Labels {
		labels[k] = v
	}
	labels[models.LabelTemplateName] = tmpl.Name
	labels[models.LabelTemplateType] = tmpl.Type

	return models.RecordingOptions{
		Name:          strings.TrimSpace(req.RecordingName),
		Template:      tmpl,
		Duration:      req.Duration,
		ToDisk:        toDisk,
		MaxAge:        req.MaxAge,
		MaxSize:       req.MaxSize,
		Labels:        labels,
		ArchiveOnStop: req.ArchiveOnStop,
		Replace:       replace,
	}, nil
}

// patchRecording applies a plain text command: STOP or SAVE.
func (s *Server) patchRecording(c echo.Context) error {
	target, err := s.targetParam(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPatchBody))
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	name := pathParam(c, "recordingName")
	ctx := c.Request().Context()

	switch op := strings.ToUpper(strings.TrimSpace(string(body))); op {
	case "STOP":
		rec, err := s.deps.Recordings.Stop(ctx, target, name)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, rec)
	case "SAVE":
		archived, err := s.deps.Recordings.Archive(ctx, target, name)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, archived.Name)
	default:
		return BadRequestError("Unsupported operation", "expected STOP or SAVE, got "+op)
	}
}

// deleteRecording deletes a recording from the target.
func (s *Server) deleteRecording(c echo.Context) error {
	target, err := s.targetParam(c)
	if err != nil {
		return err
	}
	if err := s.deps.Recordings.Delete(c.Request().Context(), target, pathParam(c, "recordingName")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// createSnapshot snapshots the target's running recordings. With nothing
// running the snapshot is discarded and 202 is returned.
func (s *Server) createSnapshot(c echo.Context) error {
	target, err := s.targetParam(c)
	if err != nil {
		return err
	}
	rec, kept, err := s.deps.Recordings.Snapshot(c.Request().Context(), target)
	if err != nil {
		return err
	}
	if !kept {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, rec)
}

// listArchives returns every archived recording.
func (s *Server) listArchives(c echo.Context) error {
	archives, err := s.deps.Recordings.ListArchives()
	if err != nil {
		return err
	}
	if archives == nil {
		archives = []models.ArchivedRecording{}
	}
	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, paginate(archives, limit, offset))
}

// deleteArchive removes an archived recording.
func (s *Server) deleteArchive(c echo.Context) error {
	if err := s.deps.Recordings.DeleteArchive(pathParam(c, "name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}
