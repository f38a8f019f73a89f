package rawfile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/524D/mzexport/internal/mzml"
)

// Open opens an instrument data file as a ScanSource. mzML documents
// are supported directly, optionally gzip compressed.
func Open(path string) (ScanSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceUnreadable, path)
	}
	if !hasMzMLSuffix(path) {
		return nil, fmt.Errorf("%w: %s: unsupported file type", ErrSourceUnreadable, path)
	}
	return openMzML(path)
}

func hasMzMLSuffix(path string) bool {
	p := strings.ToLower(path)
	p = strings.TrimSuffix(p, ".gz")
	p = strings.TrimSuffix(p, ".gzip")
	return strings.HasSuffix(p, ".mzml")
}

// MzMLSource serves scans from an mzML document. The document is
// parsed completely on open, Close only invalidates the source.
type MzMLSource struct {
	path     string
	doc      mzml.MzML
	first    int
	last     int
	minRT    float64
	maxRT    float64
	lastMS1  []int
	selected bool
	closed   bool
}

func openMzML(path string) (*MzMLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	defer f.Close()

	var r io.Reader = f
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
		}
		defer gz.Close()
		r = gz
	}

	doc, err := mzml.Read(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	s := &MzMLSource{path: path, doc: doc}
	s.traverse()
	return s, nil
}

// traverse collects the scan number range, the retention time range
// and the nearest preceding MS1 scan for every spectrum.
func (s *MzMLSource) traverse() {
	n := s.doc.NumSpecs()
	s.lastMS1 = make([]int, n)
	s.minRT = -1
	prevMS1 := 0
	for i := 0; i < n; i++ {
		num, err := s.doc.ScanNumber(i)
		if err != nil {
			continue
		}
		if s.first == 0 || num < s.first {
			s.first = num
		}
		if num > s.last {
			s.last = num
		}
		if rt, err := s.doc.RetentionTime(i); err == nil && rt >= 0 {
			if s.minRT < 0 || rt < s.minRT {
				s.minRT = rt
			}
			if rt > s.maxRT {
				s.maxRT = rt
			}
		}
		level, err := s.doc.MSLevel(i)
		if err == nil && level == 1 {
			prevMS1 = num
		} else {
			s.lastMS1[i] = prevMS1
		}
	}
	if s.minRT < 0 {
		s.minRT = 0
	}
}

func (s *MzMLSource) IsOpen() bool {
	return !s.closed
}

// Err reports the error condition the instrument recorded. mzML files
// do not carry one.
func (s *MzMLSource) Err() error {
	return nil
}

// IsAcquiring reports whether the file is still being written. A
// parseable mzML document is always complete.
func (s *MzMLSource) IsAcquiring() bool {
	return false
}

func (s *MzMLSource) SelectInstrument(kind InstrumentKind, index int) error {
	if kind != InstrumentMS || index != 1 {
		return fmt.Errorf("%w: no instrument of kind %d at index %d", ErrMissingField, kind, index)
	}
	s.selected = true
	return nil
}

func (s *MzMLSource) FirstScanNumber() int {
	return s.first
}

func (s *MzMLSource) LastScanNumber() int {
	return s.last
}

func (s *MzMLSource) Scan(number int) (*ScanRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: source is closed", ErrSourceUnreadable)
	}
	if !s.selected {
		return nil, fmt.Errorf("%w: no instrument selected", ErrInvalidScanNumber)
	}
	idx, err := s.doc.ScanIndexByNumber(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScanNumber, number)
	}
	peaks, err := s.doc.ReadScan(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %d: %v", ErrMissingField, number, err)
	}

	rec := &ScanRecord{ScanNumber: number}
	rec.RetentionTime, _ = s.doc.RetentionTime(idx)
	rec.MSLevel, _ = s.doc.MSLevel(idx)
	if rec.MSLevel < 1 {
		rec.MSLevel = 1
	}
	pol, _ := s.doc.Polarity(idx)
	switch pol {
	case mzml.PolarityPositive:
		rec.Polarity = PolarityPositive
	case mzml.PolarityNegative:
		rec.Polarity = PolarityNegative
	}

	mz := make([]float64, len(peaks))
	intens := make([]float64, len(peaks))
	for i, p := range peaks {
		mz[i] = p.Mz
		intens[i] = p.Intens
	}
	centroid, _ := s.doc.Centroid(idx)
	if centroid {
		rec.CentroidMz = mz
		rec.CentroidIntensity = intens
	} else {
		rec.Mz = mz
		rec.Intensity = intens
	}

	if rec.MSLevel > 1 {
		info, err := s.doc.PrecursorInfo(idx)
		if err == nil && info != nil {
			mass := info.SelectedIonMz
			if mass == 0 {
				mass = info.IsolationTarget
			}
			rec.Reaction = &Reaction{
				PrecursorMass:  mass,
				IsolationWidth: info.IsolationLowerOffset + info.IsolationUpperOffset,
				Charge:         info.Charge,
				Activation:     activationFromAccession(info.ActivationAccession),
			}
			if num, ok := mzml.ScanNumberFromID(info.SpectrumRef); ok {
				rec.PrecursorScanNumber = num
			} else {
				rec.PrecursorScanNumber = s.lastMS1[idx]
			}
		}
		rec.MonoisotopicMz, _ = s.doc.MonoisotopicMz(idx)
	}
	return rec, nil
}

func (s *MzMLSource) InstrumentMetadata() (InstrumentMetadata, error) {
	model, serial, err := s.doc.InstrumentInfo()
	if err != nil {
		return InstrumentMetadata{}, fmt.Errorf("%w: instrument configuration: %v", ErrMissingField, err)
	}
	meta := InstrumentMetadata{
		InstrumentName:   model,
		InstrumentModel:  model,
		SerialNumber:     serial,
		FileRevision:     s.doc.Version(),
		MinRetentionTime: s.minRT,
		MaxRetentionTime: s.maxRT,
	}
	if start, ok := s.doc.StartTime(); ok {
		meta.CreationTime = start
	}
	return meta, nil
}

func (s *MzMLSource) Close() error {
	s.closed = true
	return nil
}

func activationFromAccession(accession string) Activation {
	switch accession {
	case "MS:1000133":
		return ActivationCID
	case "MS:1000422":
		return ActivationHCD
	case "MS:1000598":
		return ActivationETD
	case "MS:1000250":
		return ActivationECD
	case "MS:1000599":
		return ActivationPQD
	}
	return ActivationUnknown
}

// ActivationAccession maps a dissociation method back to its CV
// accession, empty for unknown methods.
func ActivationAccession(a Activation) string {
	switch a {
	case ActivationCID:
		return "MS:1000133"
	case ActivationHCD:
		return "MS:1000422"
	case ActivationETD:
		return "MS:1000598"
	case ActivationECD:
		return "MS:1000250"
	case ActivationPQD:
		return "MS:1000599"
	}
	return ""
}
