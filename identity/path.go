package identity

import (
	"context"
	"fmt"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"
)

// segments expected after the projects anchor:
// project/subject/session/session-data-type/scan/modality/resource-kind
const pathDepth = 7

// PathResolver decodes identifiers from the position of the directory
// segments after the projects anchor.
type PathResolver struct {
	now func() time.Time
}

func NewPathResolver() *PathResolver {
	return &PathResolver{now: time.Now}
}

func (r *PathResolver) Resolve(ctx context.Context, dir string, files []string) (entities.ImportParameters, error) {
	segments, ok := afterAnchor(dir)
	if !ok {
		return entities.ImportParameters{}, &entities.IdentityError{Dir: dir, Reason: "no projects segment in path"}
	}
	if len(segments) != pathDepth {
		return entities.ImportParameters{}, &entities.IdentityError{
			Dir:    dir,
			Reason: fmt.Sprintf("expected %d segments after projects, got %d", pathDepth, len(segments)),
		}
	}

	project, subject, session := segments[0], segments[1], segments[2]
	sessionType, scan, modality, kind := segments[3], segments[4], segments[5], segments[6]

	switch sessionType {
	case constants.SessionDataTypeRaw, constants.SessionDataTypeRecon:
	default:
		return entities.ImportParameters{}, &entities.IdentityError{
			Dir:    dir,
			Reason: fmt.Sprintf("unknown session data type %q", sessionType),
		}
	}

	date, isDate := parseISODate(session)
	if !isDate {
		date = r.now()
	}

	dataType := NormalizeModality(modality)
	return entities.ImportParameters{
		Dir:             dir,
		ProjectID:       project,
		SubjectID:       subject,
		SessionID:       sessionID(subject, session),
		SessionDataType: sessionType,
		ScanID:          scan,
		DataType:        dataType,
		XnatScanType:    ScanType(dataType),
		ScanDataType:    kind,
		SessionDate:     date,
		FileNames:       fileList(dir, files),
	}, nil
}
