package identity

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Tags holds the acquisition metadata the content resolver relies on.
type Tags struct {
	PatientID       string
	AcquisitionDate string
	StudyDate       string
	Modality        string
	SeriesNumber    string
}

// TagReader reads the acquisition metadata of one image file.
type TagReader interface {
	ReadTags(path string) (Tags, error)
}

type DicomTagReader struct {
	fs afero.Fs
}

func NewDicomTagReader(fs afero.Fs) *DicomTagReader {
	return &DicomTagReader{fs: fs}
}

func (r *DicomTagReader) ReadTags(path string) (Tags, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Tags{}, err
	}

	ds, err := dicom.Parse(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return Tags{}, errors.Wrapf(err, "parse %s", path)
	}

	return Tags{
		PatientID:       firstString(&ds, tag.PatientID),
		AcquisitionDate: firstString(&ds, tag.AcquisitionDate),
		StudyDate:       firstString(&ds, tag.StudyDate),
		Modality:        firstString(&ds, tag.Modality),
		SeriesNumber:    firstString(&ds, tag.SeriesNumber),
	}, nil
}

func firstString(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return ""
	}
	values, ok := el.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
