package report

import (
	"fmt"
	"sort"
	"strings"

	"xnat-importer/entities"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Summary renders the end of run overview printed to the console.
func Summary(snap entities.ResultSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uploaded:       %s (%s)\n", humanize.Comma(int64(len(snap.Uploaded))), humanize.Bytes(uint64(snap.Bytes)))
	fmt.Fprintf(&b, "already exists: %s\n", humanize.Comma(int64(len(snap.AlreadyExists))))
	fmt.Fprintf(&b, "failed:         %s\n", humanize.Comma(int64(len(snap.Failed))))

	byKind := map[entities.Kind]int{}
	for _, f := range snap.Failed {
		byKind[f.Kind]++
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %-14s %s\n", k+":", humanize.Comma(int64(byKind[entities.Kind(k)])))
	}
	return b.String()
}

// LogSummary logs the counts of snap.
func LogSummary(logger *zap.Logger, snap entities.ResultSnapshot) {
	logger.Info("run summary",
		zap.String("uploaded", humanize.Comma(int64(len(snap.Uploaded)))),
		zap.String("already_exists", humanize.Comma(int64(len(snap.AlreadyExists)))),
		zap.String("failed", humanize.Comma(int64(len(snap.Failed)))),
		zap.String("bytes", humanize.Bytes(uint64(snap.Bytes))))
}
