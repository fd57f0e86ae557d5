package xnat

import (
	"context"
	"net/http"
	"net/url"

	"xnat-importer/constants"
	"xnat-importer/entities"
	"xnat-importer/retry"

	"go.uber.org/zap"
)

type level struct {
	name   string
	path   string
	params url.Values
}

// Synchronizer makes sure the remote project, subject, experiment, scan and
// resource containers of a directory exist before its files are uploaded.
type Synchronizer struct {
	caller   Caller
	retry    *retry.Driver
	attempts int
	logger   *zap.Logger
}

func NewSynchronizer(caller Caller, driver *retry.Driver, attempts int, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{caller: caller, retry: driver, attempts: attempts, logger: logger}
}

// Sync creates whatever part of the hierarchy of p is missing. Each level is
// retried on its own. Resource containers of a raw scan are only created
// together with the scan.
func (s *Synchronizer) Sync(ctx context.Context, p entities.ImportParameters) error {
	logger := s.logger.With(
		zap.String("project", p.ProjectID),
		zap.String("subject", p.SubjectID),
		zap.String("session", p.SessionID),
		zap.String("scan", p.ScanID))

	scanExisted := false
	for _, l := range entityLevels(p) {
		existed, err := s.ensureWithRetry(ctx, l)
		if err != nil {
			logger.Error("sync failed", zap.String("level", l.name), zap.Error(err))
			return err
		}
		if l.name == constants.LevelScan {
			scanExisted = existed
		}
	}

	if p.SessionDataType == constants.SessionDataTypeRaw && scanExisted {
		logger.Info("scan already exists, resource containers left untouched")
		return nil
	}
	for _, l := range resourceLevels(p) {
		if _, err := s.ensureWithRetry(ctx, l); err != nil {
			logger.Error("sync failed", zap.String("level", l.name), zap.String("path", l.path), zap.Error(err))
			return err
		}
	}
	logger.Debug("hierarchy in sync")
	return nil
}

func (s *Synchronizer) ensureWithRetry(ctx context.Context, l level) (bool, error) {
	var existed bool
	err := s.retry.Run(ctx, func(ctx context.Context) error {
		var err error
		existed, err = s.ensure(ctx, l)
		return err
	}, s.attempts)
	return existed, err
}

// ensure reports whether the entity already existed, creating it if not.
func (s *Synchronizer) ensure(ctx context.Context, l level) (bool, error) {
	resp, err := s.caller.Call(ctx, &Request{Method: http.MethodGet, Path: l.path})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		drain(resp)
		return true, nil
	case http.StatusNotFound:
		drain(resp)
	default:
		return false, &entities.SyncError{Level: l.name, Path: l.path, Status: resp.StatusCode, Body: readBody(resp)}
	}

	resp, err = s.caller.Call(ctx, &Request{Method: http.MethodPut, Path: l.path, Parameters: l.params})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		drain(resp)
		s.logger.Info("created", zap.String("level", l.name), zap.String("path", l.path))
		return false, nil
	case http.StatusConflict:
		drain(resp)
		return true, nil
	}
	return false, &entities.SyncError{Level: l.name, Path: l.path, Status: resp.StatusCode, Body: readBody(resp)}
}

func entityLevels(p entities.ImportParameters) []level {
	sessionType := "xnat:" + p.DataType + constants.SessionDataSuffix
	return []level{
		{name: constants.LevelProject, path: projectPath(p)},
		{name: constants.LevelSubject, path: subjectPath(p)},
		{
			name: constants.LevelExperiment,
			path: experimentPath(p),
			params: url.Values{
				"xsiType":              {sessionType},
				sessionType + "/date": {p.SessionDate.Format("2006-01-02")},
			},
		},
		{
			name:   constants.LevelScan,
			path:   scanPath(p),
			params: url.Values{"xsiType": {"xnat:" + p.XnatScanType}},
		},
	}
}

func resourceLevels(p entities.ImportParameters) []level {
	if p.SessionDataType == constants.SessionDataTypeRecon {
		return []level{{
			name:   constants.LevelResource,
			path:   reconResourcePath(p),
			params: url.Values{"format": {constants.FormatNIFTI}},
		}}
	}
	return []level{
		{
			name: constants.LevelResource,
			path: resourcePath(p, constants.ResourceDICOM),
			params: url.Values{
				"format":  {constants.FormatDICOM},
				"content": {p.ScanDataType + constants.RawContentSuffix},
			},
		},
		{
			name:   constants.LevelResource,
			path:   resourcePath(p, constants.ResourceMetadata),
			params: url.Values{"format": {constants.FormatXML}},
		},
	}
}
