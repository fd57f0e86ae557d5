package entities

import (
	"encoding/json"
	"time"
)

// ImportParameters identifies where the files of one source directory go on
// the remote server. It is built once per leaf directory and passed by
// value.
type ImportParameters struct {
	Dir             string    `json:"dir"`
	ProjectID       string    `json:"project_id"`
	SubjectID       string    `json:"subject_id"`
	SessionID       string    `json:"session_id"`
	SessionDataType string    `json:"session_data_type"`
	ScanID          string    `json:"scan_id"`
	DataType        string    `json:"data_type"`
	XnatScanType    string    `json:"xnat_scan_type"`
	ScanDataType    string    `json:"scan_data_type"`
	SessionDate     time.Time `json:"session_date"`
	FileNames       []string  `json:"file_names"`
}

func (p ImportParameters) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}
