package xnat

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"xnat-importer/constants"
	"xnat-importer/entities"
	"xnat-importer/retry"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ReportChecker validates a structured report before it is uploaded.
type ReportChecker interface {
	Check(ctx context.Context, file string, content []byte) error
}

// Uploader sends the files of a directory into the resource containers
// prepared by the Synchronizer. Files already present are never sent again.
type Uploader struct {
	caller   Caller
	fs       afero.Fs
	checker  ReportChecker
	retry    *retry.Driver
	attempts int
	logger   *zap.Logger
}

func NewUploader(caller Caller, fs afero.Fs, checker ReportChecker, driver *retry.Driver, attempts int, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		caller:   caller,
		fs:       fs,
		checker:  checker,
		retry:    driver,
		attempts: attempts,
		logger:   logger,
	}
}

// Upload sends one file. It is a single attempt; UploadAll adds retries.
func (u *Uploader) Upload(ctx context.Context, file string, p entities.ImportParameters) (entities.Outcome, error) {
	outcome, _, err := u.upload(ctx, file, p)
	return outcome, err
}

func (u *Uploader) upload(ctx context.Context, file string, p entities.ImportParameters) (entities.Outcome, int64, error) {
	name := filepath.Base(file)
	remote := FilePath(file, p)

	var content []byte
	if p.SessionDataType != constants.SessionDataTypeRecon {
		exists, err := u.exists(ctx, remote)
		if err != nil {
			return entities.OutcomeTransportFailed, 0, err
		}
		if exists {
			return entities.OutcomeAlreadyExists, 0, nil
		}

		if needsValidation(file) {
			content, err = afero.ReadFile(u.fs, file)
			if err != nil {
				return entities.OutcomeTransportFailed, 0, errors.Wrapf(err, "read %s", file)
			}
			if err := u.check(ctx, file, content); err != nil {
				return entities.OutcomeValidationFailed, 0, err
			}
		}
	}

	req := &Request{
		Method:      http.MethodPut,
		Path:        remote,
		Parameters:  url.Values{"file": {name}},
		ContentType: constants.ContentText,
	}
	if content != nil {
		req.Size = int64(len(content))
		req.Body = func() (io.ReadCloser, error) {
			return ioutil.NopCloser(bytes.NewReader(content)), nil
		}
	} else {
		info, err := u.fs.Stat(file)
		if err != nil {
			return entities.OutcomeTransportFailed, 0, errors.Wrapf(err, "stat %s", file)
		}
		req.Size = info.Size()
		req.Body = func() (io.ReadCloser, error) {
			return u.fs.Open(file)
		}
	}

	resp, err := u.caller.Call(ctx, req)
	if err != nil {
		return entities.OutcomeTransportFailed, 0, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		drain(resp)
		return entities.OutcomeUploaded, req.Size, nil
	case http.StatusConflict:
		drain(resp)
		return entities.OutcomeAlreadyExists, 0, nil
	}
	status := resp.StatusCode
	return entities.OutcomeTransportFailed, 0, &entities.TransportError{
		Op:     "upload " + name,
		Status: status,
		Err:    errors.New(readBody(resp)),
	}
}

func (u *Uploader) exists(ctx context.Context, remote string) (bool, error) {
	resp, err := u.caller.Call(ctx, &Request{Method: http.MethodGet, Path: remote})
	if err != nil {
		return false, err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, &entities.TransportError{Op: "probe " + remote, Status: resp.StatusCode}
}

func (u *Uploader) check(ctx context.Context, file string, content []byte) error {
	if u.checker == nil {
		return &entities.ValidationFailed{File: file, Diagnostics: []string{"no validator configured"}}
	}
	return u.checker.Check(ctx, file, content)
}

func needsValidation(file string) bool {
	return Bucket(file) == constants.ResourceMetadata &&
		strings.HasSuffix(strings.ToLower(file), constants.ReportSuffix)
}

// UploadAll uploads every file of p and records each outcome in result.
// Only an error that must abort the run is returned; the files left are
// then recorded as aborted.
func (u *Uploader) UploadAll(ctx context.Context, p entities.ImportParameters, result *entities.ImportResult) error {
	for i, file := range p.FileNames {
		if err := ctx.Err(); err != nil {
			result.AddAborted(p.FileNames[i:], err)
			return err
		}

		var (
			outcome entities.Outcome
			size    int64
		)
		err := u.retry.Run(ctx, func(ctx context.Context) error {
			var err error
			outcome, size, err = u.upload(ctx, file, p)
			return err
		}, u.attempts)

		logger := u.logger.With(zap.String("file", file))
		if err != nil {
			logger.Warn("upload failed", zap.String("outcome", outcome.String()), zap.Error(err))
			result.AddFailed(file, err)
			if entities.IsFatal(err) || errors.Is(err, context.Canceled) {
				result.AddAborted(p.FileNames[i+1:], err)
				return err
			}
			continue
		}

		switch outcome {
		case entities.OutcomeUploaded:
			logger.Info("uploaded", zap.Int64("bytes", size))
			result.AddUploaded(file, size)
		case entities.OutcomeAlreadyExists:
			logger.Debug("already on server")
			result.AddAlreadyExists(file)
		}
	}
	return nil
}
