// Package identity derives the remote identifiers of a source directory.
package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"

	"github.com/spf13/afero"
)

// Resolver builds the ImportParameters of one leaf directory.
type Resolver interface {
	Resolve(ctx context.Context, dir string, files []string) (entities.ImportParameters, error)
}

// New returns the resolver for a deployment mode.
func New(mode string, fs afero.Fs) (Resolver, error) {
	switch mode {
	case constants.ModePath, "":
		return NewPathResolver(), nil
	case constants.ModeContent:
		return NewContentResolver(NewDicomTagReader(fs)), nil
	}
	return nil, &entities.ConfigError{Path: constants.KeyMode, Reason: fmt.Sprintf("unknown mode %q", mode)}
}

func splitPath(dir string) []string {
	cleaned := filepath.ToSlash(filepath.Clean(dir))
	parts := strings.Split(cleaned, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// afterAnchor returns the path segments following the first "projects"
// segment of dir.
func afterAnchor(dir string) ([]string, bool) {
	segments := splitPath(dir)
	for i, s := range segments {
		if s == constants.ProjectsAnchor {
			return segments[i+1:], true
		}
	}
	return nil, false
}

func fileList(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !filepath.IsAbs(f) && filepath.Dir(f) == "." {
			f = filepath.Join(dir, f)
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func sessionID(subject, session string) string {
	return subject + "_" + session
}

func parseISODate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
