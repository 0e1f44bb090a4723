package ingest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/param"
)

// encodeDICOM writes a minimal explicit-VR little-endian MR header.
func encodeDICOM(t *testing.T) []byte {
	t.Helper()
	values := []struct {
		tag tag.Tag
		val []string
	}{
		{tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}},
		{tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5.6"}},
		{tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}},
		{tag.PatientID, []string{"sub-01"}},
		{tag.StudyInstanceUID, []string{"1.2.3"}},
		{tag.SeriesInstanceUID, []string{"1.2.3.4.5"}},
		{tag.SeriesDescription, []string{"T1w MPRAGE"}},
		{tag.ImageType, []string{"ORIGINAL", "PRIMARY", "M"}},
		{tag.EchoNumbers, []string{"2"}},
		{tag.EchoTime, []string{"2.46"}},
		{tag.RepetitionTime, []string{"2300"}},
		{tag.Manufacturer, []string{"SIEMENS"}},
		{tag.SeriesDate, []string{"20230501"}},
		{tag.SeriesTime, []string{"101500"}},
	}
	var ds dicom.Dataset
	for _, v := range values {
		el, err := dicom.NewElement(v.tag, v.val)
		require.NoError(t, err, "element %v", v.tag)
		ds.Elements = append(ds.Elements, el)
	}
	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, ds))
	return buf.Bytes()
}

func TestReadDICOMHeader(t *testing.T) {
	data := encodeDICOM(t)
	require.True(t, isDICOM(bytes.NewReader(data)))

	h, err := ReadDICOMHeader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "sub-01", h.PatientID)
	assert.Equal(t, "1.2.3", h.StudyInstanceUID)
	assert.Equal(t, "1.2.3.4.5", h.SeriesInstanceUID)
	assert.Equal(t, "T1w MPRAGE", h.SeriesDescription)
	assert.Equal(t, []string{"ORIGINAL", "PRIMARY", "M"}, h.ImageType)
	assert.Equal(t, 2, h.EchoNumber)
	assert.InDelta(t, 2.46, h.EchoTime, 1e-9)
	assert.True(t, h.Params["RepetitionTime"].Equal(param.Float(2300, "ms")))
	assert.True(t, h.Params["EchoTime"].Equal(param.Float(2.46, "ms")))
	assert.True(t, h.Params["Manufacturer"].Equal(param.String("SIEMENS")))
	assert.NotContains(t, h.Params, "FlipAngle")
	assert.True(t, h.AcquiredAt.Equal(time.Date(2023, 5, 1, 10, 15, 0, 0, time.UTC)), h.AcquiredAt)
}

func TestReadDICOMHeader_NotDICOM(t *testing.T) {
	data := []byte("definitely not a dicom file")
	assert.False(t, isDICOM(bytes.NewReader(data)))
	_, err := ReadDICOMHeader(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestDICOMAdapter_RealHeader(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "/d/series/1.dcm", encodeDICOM(t), 0o644))

	ds := dataset.New("test", "dicom", "/d")
	res, err := NewDICOMAdapter().Populate(context.Background(), fsys, "/d", nil, ds)
	require.NoError(t, err)
	require.Equal(t, 1, res.Runs)

	r, ok := ds.Lookup(dataset.Key{Subject: "sub-01", Session: "1.2.3", Sequence: "T1w_MPRAGE", Run: "1.2.3.4.5_en_2"})
	require.True(t, ok)
	assert.Equal(t, 2, r.EchoNumber)
	assert.Equal(t, []string{"/d/series/1.dcm"}, r.Files)
}

func TestDICOMTime(t *testing.T) {
	day := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		da, tm string
		want   time.Time
	}{
		{"full", "20230501", "101500", day.Add(10*time.Hour + 15*time.Minute)},
		{"fractional", "20230501", "101530.123456", day.Add(10*time.Hour + 15*time.Minute + 30*time.Second)},
		{"short", "20230501", "1015", day.Add(10*time.Hour + 15*time.Minute)},
		{"hour only", "20230501", "10", day.Add(10 * time.Hour)},
		{"padded", " 20230501 ", " 101500 ", day.Add(10*time.Hour + 15*time.Minute)},
		{"no time", "20230501", "", day},
		{"malformed time", "20230501", "ab1500", day},
		{"malformed date", "2023-05-01", "101500", time.Time{}},
		{"no date", "", "101500", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dicomTime(tt.da, tt.tm)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
