package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/mzml"
	"github.com/524D/mzexport/internal/rawfile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMeta() rawfile.InstrumentMetadata {
	return rawfile.InstrumentMetadata{
		InstrumentName:   "Orbitrap Fusion",
		InstrumentModel:  "Orbitrap Fusion",
		SerialNumber:     "FSN20115",
		FileRevision:     "66",
		CreationTime:     time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		SampleVial:       "1:A,4",
		MinRetentionTime: 1.0,
		MaxRetentionTime: 1.2,
	}
}

// testScans has a numbering gap at scan 3 and one precursor whose
// intensity cannot be found in the MS1 scan.
func testScans() []rawfile.ScanRecord {
	return []rawfile.ScanRecord{
		{
			ScanNumber: 1, RetentionTime: 1.0, MSLevel: 1, Polarity: rawfile.PolarityPositive,
			Mz: []float64{100, 445.12, 500}, Intensity: []float64{1000, 5000, 800},
			CentroidMz: []float64{100, 445.12, 500}, CentroidIntensity: []float64{1000, 5000, 800},
		},
		{
			ScanNumber: 2, RetentionTime: 1.1, MSLevel: 2, Polarity: rawfile.PolarityPositive,
			CentroidMz: []float64{120.5, 250.25}, CentroidIntensity: []float64{300, 600},
			Reaction: &rawfile.Reaction{
				PrecursorMass: 445.12, IsolationWidth: 2, Charge: 2,
				Activation: rawfile.ActivationHCD,
			},
			MonoisotopicMz: 445.118, PrecursorScanNumber: 1,
		},
		{
			ScanNumber: 4, RetentionTime: 1.2, MSLevel: 2, Polarity: rawfile.PolarityNegative,
			CentroidMz: []float64{130.5}, CentroidIntensity: []float64{700},
			Reaction: &rawfile.Reaction{
				PrecursorMass: 500.25, IsolationWidth: 2, Charge: 1,
				Activation: rawfile.ActivationCID,
			},
			PrecursorScanNumber: 1,
		},
	}
}

func newTestSource(t *testing.T, scans []rawfile.ScanRecord) *rawfile.MemorySource {
	t.Helper()
	src := rawfile.NewMemorySource(testMeta(), scans)
	if err := src.SelectInstrument(rawfile.InstrumentMS, 1); err != nil {
		t.Fatalf("SelectInstrument: %v", err)
	}
	return src
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		SourcePath:      "run01.raw",
		OutputDirectory: dir,
		Format:          config.FormatMGF,
		Ms1Mode:         config.ModeCentroid,
		MsnMode:         config.ModeCentroid,
		PeakPicking:     true,
		ZlibCompression: true,
		ToolName:        "mzExport",
		ToolVersion:     "test",
	}
}

func TestRunMGF(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	src := newTestSource(t, testScans())

	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run01.mgf"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	blocks := parseMGF(t, data)
	if len(blocks) != 2 {
		t.Fatalf("blocks: %d, should be 2", len(blocks))
	}
	// The corrected selected ion m/z is the monoisotopic mass, its
	// intensity comes from the matching MS1 peak.
	if math.Abs(blocks[0].pepMass-445.118) > 1e-6 {
		t.Errorf("PEPMASS m/z: %v, should be 445.118", blocks[0].pepMass)
	}
	if math.Abs(blocks[0].pepIntens-5000) > 1e-6 {
		t.Errorf("PEPMASS intensity: %v, should be 5000", blocks[0].pepIntens)
	}
	if blocks[0].charge != "2+" {
		t.Errorf("charge: %q, should be 2+", blocks[0].charge)
	}
	// No MS1 peak within tolerance of 500.25, intensity stays absent.
	if blocks[1].pepIntens != 0 {
		t.Errorf("PEPMASS intensity: %v, should be absent", blocks[1].pepIntens)
	}
	if blocks[1].charge != "1-" {
		t.Errorf("charge: %q, should be 1-", blocks[1].charge)
	}
}

func TestRunIndexedMzMLIgnoresGzip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Format = config.FormatIndexedMzML
	cfg.Gzip = true
	src := newTestSource(t, testScans())

	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No .gzip suffix and no gzip wrapping: the file must parse as
	// plain XML.
	f, err := os.Open(filepath.Join(dir, "run01.mzML"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	doc, err := mzml.Read(f)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := doc.NumSpecs(); got != 3 {
		t.Errorf("NumSpecs: %d, should be 3", got)
	}

	idx, err := doc.ScanIndexByNumber(2)
	if err != nil {
		t.Fatalf("ScanIndexByNumber: %v", err)
	}
	prec, err := doc.PrecursorInfo(idx)
	if err != nil {
		t.Fatalf("PrecursorInfo: %v", err)
	}
	if math.Abs(prec.SelectedIonMz-445.118) > 1e-6 {
		t.Errorf("selected ion m/z: %v, should be 445.118", prec.SelectedIonMz)
	}
	if math.Abs(prec.Intensity-5000) > 1e-3 {
		t.Errorf("precursor intensity: %v, should be 5000", prec.Intensity)
	}
	if prec.Charge != 2 {
		t.Errorf("charge: %d, should be 2", prec.Charge)
	}
}

func TestRunMzMLGzip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Format = config.FormatMzML
	cfg.Gzip = true
	src := newTestSource(t, testScans())

	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "run01.mzML.gzip"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	doc, err := mzml.Read(zr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := doc.NumSpecs(); got != 3 {
		t.Errorf("NumSpecs: %d, should be 3", got)
	}
}

func TestRunParquet(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Format = config.FormatParquet
	src := newTestSource(t, testScans())

	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run01.parquet"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	rows, err := parquet.Read[peakRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parquet.Read: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("rows: %d, should be 6", len(rows))
	}
	if rows[0].ScanNumber != 1 || rows[0].MSLevel != 1 || rows[0].Mz != 100 {
		t.Errorf("first row: %+v", rows[0])
	}
	r := rows[3]
	if r.ScanNumber != 2 || r.MSLevel != 2 || r.Charge != 2 {
		t.Errorf("first MSn row: %+v", r)
	}
	if math.Abs(r.PrecursorMz-445.118) > 1e-6 {
		t.Errorf("precursor m/z: %v, should be 445.118", r.PrecursorMz)
	}
	if math.Abs(r.RetentionTime-1.1) > 1e-9 {
		t.Errorf("retention time: %v, should be 1.1", r.RetentionTime)
	}
	if r.Polarity != "positive" {
		t.Errorf("polarity: %q, should be positive", r.Polarity)
	}
	if rows[5].Polarity != "negative" {
		t.Errorf("last row polarity: %q, should be negative", rows[5].Polarity)
	}
}

func TestRunLevelFilter(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Format = config.FormatMzML
	cfg.MSLevels = []int{2}
	src := newTestSource(t, testScans())

	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "run01.mzML"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	doc, err := mzml.Read(f)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := doc.NumSpecs(); got != 2 {
		t.Errorf("NumSpecs: %d, should be 2", got)
	}
	if level, err := doc.MSLevel(0); err != nil || level != 2 {
		t.Errorf("MSLevel(0): %d, %v, should be 2", level, err)
	}
}

func TestRunMissingReactionAborts(t *testing.T) {
	scans := testScans()
	scans[1].Reaction = nil // scan 2 loses its fragmentation info

	dir := t.TempDir()
	cfg := testConfig(dir)
	src := newTestSource(t, scans)
	err := Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if !errors.Is(err, rawfile.ErrMissingField) {
		t.Errorf("Run: %v, should wrap ErrMissingField", err)
	}

	// With the tolerance flag the bad scan is skipped and the rest of
	// the range still converts.
	dir = t.TempDir()
	cfg = testConfig(dir)
	cfg.IgnoreInstrumentErrors = true
	src = newTestSource(t, scans)
	err = Run(context.Background(), cfg, discardLogger(), src, src.FirstScanNumber(), src.LastScanNumber())
	if err != nil {
		t.Fatalf("Run with ignore flag: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run01.mgf"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	blocks := parseMGF(t, data)
	if len(blocks) != 1 {
		t.Fatalf("blocks: %d, should be 1", len(blocks))
	}
	if blocks[0].title != "controllerType=0 controllerNumber=1 scan=4" {
		t.Errorf("title: %q, should name scan 4", blocks[0].title)
	}
}

func TestRunNoFormatWriter(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Format = config.FormatNone
	src := newTestSource(t, testScans())
	err := Run(context.Background(), cfg, discardLogger(), src, 1, 4)
	if !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Errorf("Run: %v, should wrap ErrInvalidConfiguration", err)
	}
}
