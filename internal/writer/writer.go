// Package writer serializes scan records to the supported spectrum
// formats and handles the lifetime of the output destination.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/precursor"
	"github.com/524D/mzexport/internal/rawfile"
)

// SpectrumRecord is a scan prepared for serialization: peaks in the
// resolved representation plus the corrected precursor description.
// The precursor fields are zero for MS1 records.
type SpectrumRecord struct {
	NativeID      string
	ScanNumber    int
	RetentionTime float64 // minutes
	MSLevel       int
	Polarity      rawfile.Polarity
	Centroided    bool
	Mz            []float64
	Intensity     []float64

	SelectedIonMz         float64
	Charge                int
	PrecursorIntensity    float64
	HasPrecursorIntensity bool
	IsolationTarget       float64
	IsolationWidth        float64
	Activation            rawfile.Activation
	PrecursorScanNumber   int
	MonoisotopicMz        float64
}

// formatWriter serializes spectra to one output format. begin is
// called once before the first record and end exactly once after the
// last one, also when no record was written.
type formatWriter interface {
	begin(w io.Writer, meta rawfile.InstrumentMetadata, firstScan, lastScan int) error
	spectrum(rec *SpectrumRecord) error
	end() error
}

// Run converts the selected scan range of src to the configured
// spectrum format. Scans that fail to read are skipped or abort the
// conversion depending on cfg.IgnoreInstrumentErrors; failures to
// write the destination always abort.
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger, src rawfile.ScanSource, firstScan, lastScan int) error {
	var fw formatWriter
	var sink *Sink
	switch cfg.Format {
	case config.FormatMGF:
		fw = newMGFWriter()
		sink = newSink(cfg, cfg.Format.Extension(), true)
	case config.FormatMzML:
		fw = newMzMLWriter(cfg, false)
		sink = newSink(cfg, cfg.Format.Extension(), true)
	case config.FormatIndexedMzML:
		// The index records byte positions, so the file itself must
		// stay uncompressed.
		fw = newMzMLWriter(cfg, true)
		sink = newSink(cfg, cfg.Format.Extension(), false)
	case config.FormatParquet:
		fw = newParquetWriter()
		sink = newSink(cfg, cfg.Format.Extension(), true)
	default:
		return fmt.Errorf("%w: no spectrum writer for format %q",
			config.ErrInvalidConfiguration, cfg.Format.String())
	}
	if cfg.Gzip && !sink.gzip {
		log.Warn("gzip not applicable, writing plain output", "format", cfg.Format.String())
	}
	log.Info("writing spectra", "format", cfg.Format.String(), "output", sink.Path())

	w, err := sink.Open(ctx)
	if err != nil {
		return err
	}
	defer sink.Close()

	meta, err := src.InstrumentMetadata()
	if err != nil {
		if !cfg.IgnoreInstrumentErrors {
			return err
		}
		log.Warn("instrument metadata unavailable", "error", err)
		meta = rawfile.InstrumentMetadata{}
	}
	if err := fw.begin(w, meta, firstScan, lastScan); err != nil {
		return sinkErr(err)
	}

	total := lastScan - firstScan + 1
	step := total / 10
	if step < 1 {
		step = 1
	}
	for num := firstScan; num <= lastScan; num++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		scan, err := src.Scan(num)
		if err != nil {
			if errors.Is(err, rawfile.ErrInvalidScanNumber) {
				// Gap in the scan numbering.
				continue
			}
			if !cfg.IgnoreInstrumentErrors {
				return err
			}
			log.Warn("skipping unreadable scan", "scan", num, "error", err)
			continue
		}
		if !cfg.WantsLevel(scan.MSLevel) {
			continue
		}
		rec, err := buildRecord(cfg, src, scan)
		if err != nil {
			if !cfg.IgnoreInstrumentErrors {
				return err
			}
			log.Warn("skipping scan with missing instrument data", "scan", num, "error", err)
			continue
		}
		if err := fw.spectrum(rec); err != nil {
			return sinkErr(err)
		}
		if pos := num - firstScan + 1; pos%step == 0 {
			log.Info("converting", "progress", fmt.Sprintf("%d%%", pos*100/total))
		}
	}
	if err := fw.end(); err != nil {
		return sinkErr(err)
	}
	return sink.Close()
}

// buildRecord assembles the serializable form of a scan. For MSn
// scans the precursor m/z is corrected against the reported
// monoisotopic mass and its intensity is looked up in the precursor
// scan.
func buildRecord(cfg *config.Config, src rawfile.ScanSource, scan *rawfile.ScanRecord) (*SpectrumRecord, error) {
	mz, intensity, centroided := peaksFor(cfg, scan)
	rec := &SpectrumRecord{
		NativeID:      nativeID(scan.ScanNumber),
		ScanNumber:    scan.ScanNumber,
		RetentionTime: scan.RetentionTime,
		MSLevel:       scan.MSLevel,
		Polarity:      scan.Polarity,
		Centroided:    centroided,
		Mz:            mz,
		Intensity:     intensity,
	}
	if scan.MSLevel <= 1 {
		return rec, nil
	}
	r := scan.Reaction
	if r == nil {
		return nil, fmt.Errorf("%w: scan %d has no fragmentation reaction",
			rawfile.ErrMissingField, scan.ScanNumber)
	}
	if r.PrecursorMass <= 0 || math.IsNaN(r.PrecursorMass) {
		return nil, fmt.Errorf("%w: scan %d has no valid precursor mass",
			rawfile.ErrMissingField, scan.ScanNumber)
	}
	rec.SelectedIonMz = precursor.Resolve(r, scan.MonoisotopicMz, scan.TrailerIsolationWidth)
	rec.Charge = r.Charge
	rec.IsolationTarget = r.PrecursorMass
	rec.IsolationWidth = r.IsolationWidth
	rec.Activation = r.Activation
	rec.PrecursorScanNumber = scan.PrecursorScanNumber
	rec.MonoisotopicMz = scan.MonoisotopicMz
	rec.PrecursorIntensity, rec.HasPrecursorIntensity = precursor.Intensity(
		src, scan.PrecursorScanNumber, r.PrecursorMass, scan.RetentionTime, r.IsolationWidth)
	return rec, nil
}

// nativeID formats the Thermo native spectrum identifier of a scan.
func nativeID(scanNumber int) string {
	return fmt.Sprintf("controllerType=0 controllerNumber=1 scan=%d", scanNumber)
}

func sinkErr(err error) error {
	if errors.Is(err, ErrSinkWrite) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSinkWrite, err)
}
