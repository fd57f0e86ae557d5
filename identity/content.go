package identity

import (
	"context"
	"path/filepath"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"
)

// ContentResolver trusts the metadata embedded in the first image of a
// directory over the directory layout: subject, session and modality come
// from the file, the project from the path.
type ContentResolver struct {
	reader TagReader
}

func NewContentResolver(reader TagReader) *ContentResolver {
	return &ContentResolver{reader: reader}
}

func (r *ContentResolver) Resolve(ctx context.Context, dir string, files []string) (entities.ImportParameters, error) {
	segments, ok := afterAnchor(dir)
	if !ok || len(segments) == 0 {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "no project below projects segment"}
	}
	names := fileList(dir, files)
	if len(names) == 0 {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "no files"}
	}

	tags, err := r.reader.ReadTags(names[0])
	if err != nil {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: err.Error()}
	}

	if tags.PatientID == "" {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "PatientID missing"}
	}
	if tags.Modality == "" {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "Modality missing"}
	}
	raw := tags.AcquisitionDate
	if raw == "" {
		raw = tags.StudyDate
	}
	date, err := time.Parse("20060102", raw)
	if err != nil {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "acquisition date missing or malformed: " + raw}
	}
	isoDate := date.Format("2006-01-02")

	scan := tags.SeriesNumber
	if scan == "" {
		scan = filepath.Base(dir)
	}

	dataType := NormalizeModality(tags.Modality)
	return entities.ImportParameters{
		Dir:             dir,
		ProjectID:       segments[0],
		SubjectID:       tags.PatientID,
		SessionID:       sessionID(tags.PatientID, isoDate),
		SessionDataType: constants.SessionDataTypeRaw,
		ScanID:          scan,
		DataType:        dataType,
		XnatScanType:    ScanType(dataType),
		ScanDataType:    constants.ResourceDICOM,
		SessionDate:     date,
		FileNames:       names,
	}, nil
}
