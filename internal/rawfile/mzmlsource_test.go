package rawfile

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/524D/mzexport/internal/mzml"
)

func writeTestMzML(t *testing.T, path string, gzipped bool) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create %s: %v", path, err)
	}
	defer f.Close()
	var w io.Writer = f
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(f)
		w = gz
	}
	sw, err := mzml.NewStreamWriter(w, mzml.Header{
		Indexed:          true,
		Zlib:             true,
		ID:               "sample01",
		SourcePath:       path,
		StartTime:        time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		InstrumentModel:  "Orbitrap Fusion",
		InstrumentSerial: "FSN20115",
		SoftwareID:       "mzexport",
		SoftwareVersion:  "test",
		SpectrumCount:    2,
	})
	if err != nil {
		t.Fatalf("NewStreamWriter: %v", err)
	}
	err = sw.WriteSpectrum(mzml.SpectrumData{
		NativeID:      "controllerType=0 controllerNumber=1 scan=1",
		MSLevel:       1,
		Centroid:      false,
		Polarity:      mzml.PolarityPositive,
		RetentionTime: 1.0,
		Mz:            []float64{100.0, 200.5},
		Intensity:     []float64{1000.0, 2000.0},
	})
	if err != nil {
		t.Fatalf("WriteSpectrum: %v", err)
	}
	err = sw.WriteSpectrum(mzml.SpectrumData{
		NativeID:       "controllerType=0 controllerNumber=1 scan=2",
		MSLevel:        2,
		Centroid:       true,
		Polarity:       mzml.PolarityPositive,
		RetentionTime:  1.1,
		MonoisotopicMz: 445.118,
		Mz:             []float64{101.0, 201.5},
		Intensity:      []float64{10.0, 20.0},
		Precursor: &mzml.SpectrumPrecursor{
			NativeID:            "controllerType=0 controllerNumber=1 scan=1",
			IsolationTarget:     445.12,
			IsolationWidth:      2.0,
			SelectedIonMz:       445.12,
			Charge:              2,
			ActivationAccession: "MS:1000422",
		},
	})
	if err != nil {
		t.Fatalf("WriteSpectrum: %v", err)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
	}
}

func TestOpenMzML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample01.mzML")
	writeTestMzML(t, path, false)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open: error return %v", err)
	}
	defer src.Close()
	if !src.IsOpen() {
		t.Errorf("IsOpen: false, should be true")
	}
	if src.Err() != nil {
		t.Errorf("Err: %v, should be nil", src.Err())
	}
	if src.IsAcquiring() {
		t.Errorf("IsAcquiring: true, should be false")
	}
	if err := src.SelectInstrument(InstrumentMS, 1); err != nil {
		t.Fatalf("SelectInstrument: error return %v", err)
	}
	if src.FirstScanNumber() != 1 || src.LastScanNumber() != 2 {
		t.Errorf("scan range %d..%d, should be 1..2", src.FirstScanNumber(), src.LastScanNumber())
	}

	s, err := src.Scan(1)
	if err != nil {
		t.Fatalf("Scan(1): error return %v", err)
	}
	if s.MSLevel != 1 {
		t.Errorf("Scan(1): ms level %d, should be 1", s.MSLevel)
	}
	if !s.HasProfile() || s.HasCentroid() {
		t.Errorf("Scan(1): profile %v centroid %v, should be profile only", s.HasProfile(), s.HasCentroid())
	}
	if s.Mz[0] != 100.0 || s.Mz[1] != 200.5 {
		t.Errorf("Scan(1): mz %v", s.Mz)
	}
	if math.Abs(s.RetentionTime-1.0) > 1e-9 {
		t.Errorf("Scan(1): retention time %v, should be 1.0", s.RetentionTime)
	}
	if s.Polarity != PolarityPositive {
		t.Errorf("Scan(1): polarity %v, should be positive", s.Polarity)
	}
	if s.Reaction != nil {
		t.Errorf("Scan(1): ms1 scan has reaction %+v", s.Reaction)
	}

	s, err = src.Scan(2)
	if err != nil {
		t.Fatalf("Scan(2): error return %v", err)
	}
	if !s.HasCentroid() || s.HasProfile() {
		t.Errorf("Scan(2): profile %v centroid %v, should be centroid only", s.HasProfile(), s.HasCentroid())
	}
	if s.Reaction == nil {
		t.Fatalf("Scan(2): no reaction")
	}
	if s.Reaction.PrecursorMass != 445.12 {
		t.Errorf("Scan(2): precursor mass %v, should be 445.12", s.Reaction.PrecursorMass)
	}
	if math.Abs(s.Reaction.IsolationWidth-2.0) > 1e-9 {
		t.Errorf("Scan(2): isolation width %v, should be 2.0", s.Reaction.IsolationWidth)
	}
	if s.Reaction.Charge != 2 {
		t.Errorf("Scan(2): charge %d, should be 2", s.Reaction.Charge)
	}
	if s.Reaction.Activation != ActivationHCD {
		t.Errorf("Scan(2): activation %v, should be HCD", s.Reaction.Activation)
	}
	if s.PrecursorScanNumber != 1 {
		t.Errorf("Scan(2): precursor scan %d, should be 1", s.PrecursorScanNumber)
	}
	if s.MonoisotopicMz != 445.118 {
		t.Errorf("Scan(2): monoisotopic m/z %v, should be 445.118", s.MonoisotopicMz)
	}

	_, err = src.Scan(3)
	if !errors.Is(err, ErrInvalidScanNumber) {
		t.Errorf("Scan(3): error return %v, should be ErrInvalidScanNumber", err)
	}

	meta, err := src.InstrumentMetadata()
	if err != nil {
		t.Fatalf("InstrumentMetadata: error return %v", err)
	}
	if meta.InstrumentModel != "Orbitrap Fusion" || meta.SerialNumber != "FSN20115" {
		t.Errorf("InstrumentMetadata: %s / %s", meta.InstrumentModel, meta.SerialNumber)
	}
	if meta.FileRevision != "1.1.0" {
		t.Errorf("InstrumentMetadata: file revision %s, should be 1.1.0", meta.FileRevision)
	}
	if meta.CreationTime.IsZero() {
		t.Errorf("InstrumentMetadata: no creation time")
	}
	if math.Abs(meta.MinRetentionTime-1.0) > 1e-9 || math.Abs(meta.MaxRetentionTime-1.1) > 1e-9 {
		t.Errorf("InstrumentMetadata: retention time range %v..%v, should be 1.0..1.1",
			meta.MinRetentionTime, meta.MaxRetentionTime)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close: error return %v", err)
	}
	if src.IsOpen() {
		t.Errorf("IsOpen: true after Close")
	}
	_, err = src.Scan(1)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Scan after Close: error return %v", err)
	}
}

func TestOpenMzMLGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample01.mzML.gz")
	writeTestMzML(t, path, true)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open: error return %v", err)
	}
	defer src.Close()
	if err := src.SelectInstrument(InstrumentMS, 1); err != nil {
		t.Fatalf("SelectInstrument: error return %v", err)
	}
	s, err := src.Scan(1)
	if err != nil {
		t.Fatalf("Scan(1): error return %v", err)
	}
	if len(s.Mz) != 2 || s.Mz[0] != 100.0 {
		t.Errorf("Scan(1): mz %v", s.Mz)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.mzML"))
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Open missing file: error return %v, should be ErrSourceNotFound", err)
	}

	unknown := filepath.Join(dir, "sample.csv")
	if err := os.WriteFile(unknown, []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err = Open(unknown)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Open unknown type: error return %v, should be ErrSourceUnreadable", err)
	}

	corrupt := filepath.Join(dir, "corrupt.mzML")
	if err := os.WriteFile(corrupt, []byte("<mzML this is not xml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err = Open(corrupt)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Open corrupt file: error return %v, should be ErrSourceUnreadable", err)
	}

	_, err = Open(dir)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Open directory: error return %v, should be ErrSourceUnreadable", err)
	}
}
