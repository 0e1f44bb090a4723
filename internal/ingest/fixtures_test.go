package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/mrds/internal/param"
)

// writeFakeDICOM stores h as JSON behind a real preamble and DICM marker,
// so isDICOM accepts the file and fakeHeaderReader can decode it.
func writeFakeDICOM(t *testing.T, fsys billy.Filesystem, path string, h Header) {
	t.Helper()
	payload, err := json.Marshal(h)
	require.NoError(t, err)
	buf := append(make([]byte, dicomMagicOffset), dicomMagic...)
	buf = append(buf, payload...)
	require.NoError(t, util.WriteFile(fsys, path, buf, 0o644))
}

func fakeHeaderReader(r io.Reader, _ int64) (*Header, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	skip := dicomMagicOffset + len(dicomMagic)
	if len(b) < skip {
		return nil, errors.New("short file")
	}
	var h Header
	if err := json.Unmarshal(b[skip:], &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func t1Header(subject, series string) Header {
	return Header{
		PatientID:         subject,
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: series,
		SeriesDescription: "T1w MPRAGE",
		ImageType:         []string{"ORIGINAL", "PRIMARY"},
		EchoNumber:        1,
		EchoTime:          2.46,
		Params: param.Params{
			"RepetitionTime": param.Float(2300, "ms"),
			"EchoTime":       param.Float(2.46, "ms"),
			"Manufacturer":   param.String("SIEMENS"),
		},
	}
}

const sidecarJSON = `{
  "RepetitionTime": 2.3,
  "EchoTime": 0.003,
  "FlipAngle": 9,
  "Manufacturer": "Siemens",
  "ImageType": ["ORIGINAL", "PRIMARY", "M"],
  "AcquisitionDateTime": "2023-05-01T10:00:00"
}`

// writeBIDS lays out a small BIDS tree under root.
func writeBIDS(t *testing.T, fsys billy.Filesystem, root string) {
	t.Helper()
	files := map[string]string{
		"dataset_description.json":                                    `{"Name": "test"}`,
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.json":                   sidecarJSON,
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz":                 "nifti",
		"sub-01/ses-01/func/sub-01_ses-01_task-rest_run-01_bold.json": sidecarJSON,
		"sub-01/ses-01/func/sub-01_ses-01_task-rest_run-02_bold.json": sidecarJSON,
		"sub-01/ses-01/func/sub-01_ses-01_task-rest_sbref.json":       sidecarJSON,
		"sub-02/anat/sub-02_T1w.json":                                 sidecarJSON,
		"sub-03/anat/sub-03_T1w.json":                                 `{"RepetitionTime": `,
		"derivatives/sub-01/anat/sub-01_T1w.json":                     sidecarJSON,
		".git/anat/sub-09_T1w.json":                                   sidecarJSON,
	}
	for name, content := range files {
		require.NoError(t, util.WriteFile(fsys, root+"/"+name, []byte(content), 0o644))
	}
}
