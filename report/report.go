// Package report publishes the outcome of a run.
package report

import (
	"bytes"
	"encoding/csv"
	"io"

	"xnat-importer/entities"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// WriteFailures writes one (file, reason) row per failure, without header.
func WriteFailures(w io.Writer, failures []entities.Failure) error {
	cw := csv.NewWriter(w)
	for _, f := range failures {
		if err := cw.Write([]string{f.File, f.Reason}); err != nil {
			return errors.Wrapf(err, "write failure of %s", f.File)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FailuresCSV returns the failure report as bytes.
func FailuresCSV(failures []entities.Failure) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFailures(&buf, failures); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFailFile replaces the file at path with the failure report.
func WriteFailFile(fs afero.Fs, path string, failures []entities.Failure) error {
	data, err := FailuresCSV(failures)
	if err != nil {
		return err
	}
	return errors.Wrapf(afero.WriteFile(fs, path, data, 0644), "write %s", path)
}
