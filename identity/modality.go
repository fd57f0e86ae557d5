package identity

import (
	"strings"

	"xnat-importer/constants"
)

var knownDataTypes = map[string]bool{
	constants.DataTypeCR: true,
	constants.DataTypeCT: true,
	constants.DataTypeMR: true,
	constants.DataTypeHD: true,
}

// NormalizeModality maps a modality label to one the remote schema knows.
// Anything outside cr, ct, mr and hd becomes the generic otherDicom type.
func NormalizeModality(modality string) string {
	m := strings.ToLower(strings.TrimSpace(modality))
	if knownDataTypes[m] {
		return m
	}
	return constants.DataTypeOther
}

// ScanType returns the xsi scan data type for a normalized modality.
func ScanType(dataType string) string {
	return NormalizeModality(dataType) + constants.ScanDataSuffix
}
