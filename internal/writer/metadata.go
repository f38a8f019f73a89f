package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/rawfile"
)

// RunMetadata is the run level snapshot written by the metadata pass.
type RunMetadata struct {
	SourcePath       string        `json:"sourcePath"`
	FileRevision     string        `json:"fileRevision,omitempty"`
	CreationTime     string        `json:"creationTime,omitempty"`
	InstrumentName   string        `json:"instrumentName,omitempty"`
	InstrumentModel  string        `json:"instrumentModel,omitempty"`
	SerialNumber     string        `json:"serialNumber,omitempty"`
	SampleVial       string        `json:"sampleVial,omitempty"`
	MinRetentionTime float64       `json:"minRetentionTime"`
	MaxRetentionTime float64       `json:"maxRetentionTime"`
	FirstScanNumber  int           `json:"firstScanNumber"`
	LastScanNumber   int           `json:"lastScanNumber"`
	Scans            []ScanSummary `json:"scans,omitempty"`
}

// ScanSummary is the per scan part of the JSON metadata output.
type ScanSummary struct {
	ScanNumber        int     `json:"scanNumber"`
	MSLevel           int     `json:"msLevel"`
	RetentionTime     float64 `json:"retentionTime"`
	PeakCount         int     `json:"peakCount"`
	TotalIonCurrent   float64 `json:"totalIonCurrent"`
	BasePeakMz        float64 `json:"basePeakMz"`
	BasePeakIntensity float64 `json:"basePeakIntensity"`
}

// WriteMetadata writes the run metadata file next to the spectrum
// output. It shares the scan source with the spectrum pass but none
// of its state. All data is gathered before the destination is
// created, so a source error leaves no partial file behind.
func WriteMetadata(ctx context.Context, cfg *config.Config, log *slog.Logger, src rawfile.ScanSource, firstScan, lastScan int) error {
	ext := "-metadata.json"
	if cfg.Metadata == config.MetadataTXT {
		ext = "-metadata.txt"
	}
	sink := newMetadataSink(cfg, ext)
	log.Info("writing run metadata", "format", cfg.Metadata.String(), "output", sink.Path())

	meta, err := src.InstrumentMetadata()
	if err != nil {
		if !cfg.IgnoreInstrumentErrors {
			return err
		}
		log.Warn("instrument metadata unavailable", "error", err)
		meta = rawfile.InstrumentMetadata{}
	}
	rm := runMetadata(cfg, meta, firstScan, lastScan)
	if cfg.Metadata == config.MetadataJSON {
		scans, err := scanSummaries(ctx, cfg, log, src, firstScan, lastScan)
		if err != nil {
			return err
		}
		rm.Scans = scans
	}

	w, err := sink.Open(ctx)
	if err != nil {
		return err
	}
	defer sink.Close()

	if cfg.Metadata == config.MetadataJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rm); err != nil {
			return sinkErr(err)
		}
	} else {
		if err := writeMetadataText(w, rm); err != nil {
			return sinkErr(err)
		}
	}
	return sink.Close()
}

func runMetadata(cfg *config.Config, meta rawfile.InstrumentMetadata, firstScan, lastScan int) *RunMetadata {
	rm := &RunMetadata{
		SourcePath:       cfg.SourcePath,
		FileRevision:     meta.FileRevision,
		InstrumentName:   meta.InstrumentName,
		InstrumentModel:  meta.InstrumentModel,
		SerialNumber:     meta.SerialNumber,
		SampleVial:       meta.SampleVial,
		MinRetentionTime: meta.MinRetentionTime,
		MaxRetentionTime: meta.MaxRetentionTime,
		FirstScanNumber:  firstScan,
		LastScanNumber:   lastScan,
	}
	if !meta.CreationTime.IsZero() {
		rm.CreationTime = meta.CreationTime.Format(time.RFC3339)
	}
	return rm
}

// scanSummaries reads every scan once and condenses it to the peak
// statistics reported in the JSON metadata. Centroid peaks are
// preferred when the scan carries both representations.
func scanSummaries(ctx context.Context, cfg *config.Config, log *slog.Logger, src rawfile.ScanSource, firstScan, lastScan int) ([]ScanSummary, error) {
	var out []ScanSummary
	for num := firstScan; num <= lastScan; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scan, err := src.Scan(num)
		if err != nil {
			if errors.Is(err, rawfile.ErrInvalidScanNumber) {
				continue
			}
			if !cfg.IgnoreInstrumentErrors {
				return nil, err
			}
			log.Warn("skipping unreadable scan in metadata summary", "scan", num, "error", err)
			continue
		}
		mz, intensity := scan.CentroidMz, scan.CentroidIntensity
		if !scan.HasCentroid() {
			mz, intensity = scan.Mz, scan.Intensity
		}
		sum := ScanSummary{
			ScanNumber:    scan.ScanNumber,
			MSLevel:       scan.MSLevel,
			RetentionTime: scan.RetentionTime,
			PeakCount:     len(mz),
		}
		if len(mz) > 0 && len(intensity) == len(mz) {
			base := floats.MaxIdx(intensity)
			sum.TotalIonCurrent = floats.Sum(intensity)
			sum.BasePeakMz = mz[base]
			sum.BasePeakIntensity = intensity[base]
		}
		out = append(out, sum)
	}
	return out, nil
}

func writeMetadataText(w io.Writer, rm *RunMetadata) error {
	lines := []struct{ key, value string }{
		{"SourcePath", rm.SourcePath},
		{"FileRevision", rm.FileRevision},
		{"CreationTime", rm.CreationTime},
		{"InstrumentName", rm.InstrumentName},
		{"InstrumentModel", rm.InstrumentModel},
		{"SerialNumber", rm.SerialNumber},
		{"SampleVial", rm.SampleVial},
		{"MinRetentionTime", ftoa(rm.MinRetentionTime)},
		{"MaxRetentionTime", ftoa(rm.MaxRetentionTime)},
		{"FirstScanNumber", strconv.Itoa(rm.FirstScanNumber)},
		{"LastScanNumber", strconv.Itoa(rm.LastScanNumber)},
	}
	for _, l := range lines {
		if l.value == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", l.key, l.value); err != nil {
			return err
		}
	}
	return nil
}
