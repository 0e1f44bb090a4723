package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/agentic-research/mrds/internal/param"
)

// dicomMagicOffset is where "DICM" sits after the 128-byte preamble.
const dicomMagicOffset = 128

var dicomMagic = []byte("DICM")

// Header is the subset of a DICOM header used to place a file in the tree.
type Header struct {
	PatientID         string
	PatientName       string
	PatientSex        string
	PatientAge        string
	StudyInstanceUID  string
	StudyID           string
	SeriesInstanceUID string
	SeriesDescription string
	SequenceName      string
	ProtocolName      string
	ImageType         []string
	EchoNumber        int
	// EchoTime in ms.
	EchoTime   float64
	AcquiredAt time.Time
	// Params are the acquisition parameters extracted from the header.
	Params param.Params
}

// HeaderReader decodes a DICOM header. r is positioned at the start of the file.
type HeaderReader func(r io.Reader, size int64) (*Header, error)

// isDICOM checks for the DICM marker after the preamble.
func isDICOM(r io.ReaderAt) bool {
	buf := make([]byte, len(dicomMagic))
	if _, err := r.ReadAt(buf, dicomMagicOffset); err != nil {
		return false
	}
	return bytes.Equal(buf, dicomMagic)
}

// numericTag describes a header element extracted as a float parameter.
type numericTag struct {
	name string
	tag  tag.Tag
	unit string
}

var numericTags = []numericTag{
	{"RepetitionTime", tag.RepetitionTime, "ms"},
	{"EchoTime", tag.EchoTime, "ms"},
	{"InversionTime", tag.InversionTime, "ms"},
	{"FlipAngle", tag.FlipAngle, "deg"},
	{"MagneticFieldStrength", tag.MagneticFieldStrength, "T"},
	{"SliceThickness", tag.SliceThickness, "mm"},
	{"PixelBandwidth", tag.PixelBandwidth, "Hz/px"},
	{"EchoTrainLength", tag.EchoTrainLength, ""},
	{"NumberOfAverages", tag.NumberOfAverages, ""},
}

var stringTags = []struct {
	name string
	tag  tag.Tag
}{
	{"Manufacturer", tag.Manufacturer},
	{"ManufacturerModelName", tag.ManufacturerModelName},
	{"SoftwareVersions", tag.SoftwareVersions},
	{"MRAcquisitionType", tag.MRAcquisitionType},
	{"InPlanePhaseEncodingDirection", tag.InPlanePhaseEncodingDirection},
	{"ReceiveCoilName", tag.ReceiveCoilName},
}

var listTags = []struct {
	name string
	tag  tag.Tag
}{
	{"ScanningSequence", tag.ScanningSequence},
	{"SequenceVariant", tag.SequenceVariant},
	{"ScanOptions", tag.ScanOptions},
}

// ReadDICOMHeader parses a DICOM stream without pixel data.
func ReadDICOMHeader(r io.Reader, size int64) (*Header, error) {
	ds, err := dicom.Parse(r, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}

	h := &Header{
		PatientID:         first(&ds, tag.PatientID),
		PatientName:       first(&ds, tag.PatientName),
		PatientSex:        first(&ds, tag.PatientSex),
		PatientAge:        first(&ds, tag.PatientAge),
		StudyInstanceUID:  first(&ds, tag.StudyInstanceUID),
		StudyID:           first(&ds, tag.StudyID),
		SeriesInstanceUID: first(&ds, tag.SeriesInstanceUID),
		SeriesDescription: first(&ds, tag.SeriesDescription),
		SequenceName:      first(&ds, tag.SequenceName),
		ProtocolName:      first(&ds, tag.ProtocolName),
		ImageType:         elementStrings(&ds, tag.ImageType),
		Params:            param.Params{},
	}

	if en := first(&ds, tag.EchoNumbers); en != "" {
		h.EchoNumber, _ = strconv.Atoi(strings.TrimSpace(en))
	}

	for _, nt := range numericTags {
		raw := first(&ds, nt.tag)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			h.Params[nt.name] = param.Invalid(param.KindFloat)
			continue
		}
		h.Params[nt.name] = param.Float(f, nt.unit)
	}
	if v, ok := h.Params["EchoTime"]; ok && v.Valid {
		h.EchoTime = v.Float
	}
	for _, st := range stringTags {
		if raw := first(&ds, st.tag); raw != "" {
			h.Params[st.name] = param.String(strings.TrimSpace(raw))
		}
	}
	for _, lt := range listTags {
		if vals := elementStrings(&ds, lt.tag); len(vals) > 0 {
			h.Params[lt.name] = param.List(vals...)
		}
	}

	h.AcquiredAt = dicomTime(first(&ds, tag.SeriesDate), first(&ds, tag.SeriesTime))
	if h.AcquiredAt.IsZero() {
		h.AcquiredAt = dicomTime(first(&ds, tag.StudyDate), first(&ds, tag.StudyTime))
	}
	return h, nil
}

// elementStrings returns an element's values as strings, or nil when the
// element is missing or holds binary data.
func elementStrings(ds *dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil
	}
	switch el.Value.ValueType() {
	case dicom.Strings:
		return el.Value.GetValue().([]string)
	case dicom.Ints:
		var out []string
		for _, v := range el.Value.GetValue().([]int) {
			out = append(out, strconv.Itoa(v))
		}
		return out
	case dicom.Floats:
		var out []string
		for _, v := range el.Value.GetValue().([]float64) {
			out = append(out, strconv.FormatFloat(v, 'g', -1, 64))
		}
		return out
	}
	return nil
}

func first(ds *dicom.Dataset, t tag.Tag) string {
	if vals := elementStrings(ds, t); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// dicomTime combines a DA (YYYYMMDD) and TM (HHMMSS.ffffff) pair.
// A missing or malformed date yields the zero time; a bad time is ignored.
func dicomTime(da, tm string) time.Time {
	d, err := time.Parse("20060102", strings.TrimSpace(da))
	if err != nil {
		return time.Time{}
	}
	tm = strings.TrimSpace(tm)
	if i := strings.IndexByte(tm, '.'); i >= 0 {
		tm = tm[:i]
	}
	if len(tm) < 6 {
		tm += strings.Repeat("0", 6-len(tm))
	}
	clock, err := time.Parse("150405", tm[:6])
	if err != nil {
		return d
	}
	return d.Add(time.Duration(clock.Hour())*time.Hour +
		time.Duration(clock.Minute())*time.Minute +
		time.Duration(clock.Second())*time.Second)
}
