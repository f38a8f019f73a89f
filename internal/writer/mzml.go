package writer

import (
	"io"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/mzml"
	"github.com/524D/mzexport/internal/rawfile"
)

// mzmlWriter bridges spectrum records to the mzML stream writer,
// plain or indexed.
type mzmlWriter struct {
	cfg     *config.Config
	indexed bool
	sw      *mzml.StreamWriter
}

func newMzMLWriter(cfg *config.Config, indexed bool) *mzmlWriter {
	return &mzmlWriter{cfg: cfg, indexed: indexed}
}

func (m *mzmlWriter) begin(w io.Writer, meta rawfile.InstrumentMetadata, firstScan, lastScan int) error {
	name := m.cfg.ToolName
	if name == "" {
		name = "mzExport"
	}
	version := m.cfg.ToolVersion
	if version == "" {
		version = "unknown"
	}
	h := mzml.Header{
		Indexed:          m.indexed,
		Zlib:             m.cfg.ZlibCompression,
		ID:               SourceBase(m.cfg.SourcePath),
		SourcePath:       m.cfg.SourcePath,
		StartTime:        meta.CreationTime,
		InstrumentModel:  meta.InstrumentModel,
		InstrumentSerial: meta.SerialNumber,
		SoftwareID:       name,
		SoftwareVersion:  version,
		SpectrumCount:    lastScan - firstScan + 1,
	}
	sw, err := mzml.NewStreamWriter(w, h)
	if err != nil {
		return err
	}
	m.sw = sw
	return nil
}

func (m *mzmlWriter) spectrum(rec *SpectrumRecord) error {
	sd := mzml.SpectrumData{
		NativeID:       rec.NativeID,
		MSLevel:        rec.MSLevel,
		Centroid:       rec.Centroided,
		Polarity:       mzmlPolarity(rec.Polarity),
		RetentionTime:  rec.RetentionTime,
		MonoisotopicMz: rec.MonoisotopicMz,
		Mz:             rec.Mz,
		Intensity:      rec.Intensity,
	}
	if rec.MSLevel > 1 {
		prec := &mzml.SpectrumPrecursor{
			IsolationTarget:     rec.IsolationTarget,
			IsolationWidth:      rec.IsolationWidth,
			SelectedIonMz:       rec.SelectedIonMz,
			Charge:              rec.Charge,
			ActivationAccession: rawfile.ActivationAccession(rec.Activation),
		}
		if rec.PrecursorScanNumber > 0 {
			prec.NativeID = nativeID(rec.PrecursorScanNumber)
		}
		if rec.HasPrecursorIntensity {
			prec.Intensity = rec.PrecursorIntensity
		}
		sd.Precursor = prec
	}
	return m.sw.WriteSpectrum(sd)
}

func (m *mzmlWriter) end() error {
	return m.sw.Finish()
}

func mzmlPolarity(p rawfile.Polarity) mzml.Polarity {
	switch p {
	case rawfile.PolarityPositive:
		return mzml.PolarityPositive
	case rawfile.PolarityNegative:
		return mzml.PolarityNegative
	}
	return mzml.PolarityUnknown
}
