package xnat

import (
	"net/url"
	"path/filepath"
	"strings"

	"xnat-importer/constants"
	"xnat-importer/entities"
)

func join(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func projectPath(p entities.ImportParameters) string {
	return join("projects", p.ProjectID)
}

func subjectPath(p entities.ImportParameters) string {
	return projectPath(p) + "/" + join("subjects", p.SubjectID)
}

func experimentPath(p entities.ImportParameters) string {
	return subjectPath(p) + "/" + join("experiments", p.SessionID)
}

func scanPath(p entities.ImportParameters) string {
	return experimentPath(p) + "/" + join("scans", p.ScanID)
}

func resourcePath(p entities.ImportParameters, kind string) string {
	return scanPath(p) + "/" + join("resources", kind)
}

func reconResourcePath(p entities.ImportParameters) string {
	return scanPath(p) + "/" + join("reconstructions", p.ScanID, "resources", constants.ResourceNIFTI)
}

func filePath(resource, name string) string {
	return resource + "/" + join("files", name)
}

// Bucket classifies a raw file by the name of its parent directory. The
// extension is not used because leaf directories may mix content.
func Bucket(file string) string {
	switch filepath.Base(filepath.Dir(file)) {
	case constants.ResourceDICOM:
		return constants.ResourceDICOM
	case constants.ResourceMetadata:
		return constants.ResourceMetadata
	}
	return constants.ResourceOthers
}

// FilePath returns the remote path, relative to the data root, that file
// is uploaded to.
func FilePath(file string, p entities.ImportParameters) string {
	name := filepath.Base(file)
	if p.SessionDataType == constants.SessionDataTypeRecon {
		return filePath(reconResourcePath(p), name)
	}
	return filePath(resourcePath(p, Bucket(file)), name)
}
