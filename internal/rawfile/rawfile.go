// Package rawfile provides uniform access to instrument scan data.
// A ScanSource hides where the scans come from: an mzML file on disk
// or an in-memory set of records.
package rawfile

import (
	"errors"
	"time"
)

var (
	// ErrSourceNotFound means the input file does not exist.
	ErrSourceNotFound = errors.New("rawfile: source file not found")
	// ErrSourceUnreadable means the input file exists but cannot be
	// parsed as instrument data.
	ErrSourceUnreadable = errors.New("rawfile: source file not readable")
	// ErrSourceAcquiring means the instrument is still writing the file.
	ErrSourceAcquiring = errors.New("rawfile: source file is still being acquired")
	// ErrInvalidScanNumber means a scan number outside the file range
	// is requested.
	ErrInvalidScanNumber = errors.New("rawfile: invalid scan number")
	// ErrMissingField means a scan lacks instrument data that the
	// conversion needs, e.g. fragmentation info on an MSn scan.
	ErrMissingField = errors.New("rawfile: instrument data field missing")
)

// Polarity is the ion mode of a scan.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityPositive
	PolarityNegative
)

func (p Polarity) String() string {
	switch p {
	case PolarityPositive:
		return "positive"
	case PolarityNegative:
		return "negative"
	}
	return "unknown"
}

// Activation is the dissociation method of a fragmentation scan.
type Activation int

const (
	ActivationUnknown Activation = iota
	ActivationCID
	ActivationHCD
	ActivationETD
	ActivationECD
	ActivationPQD
)

func (a Activation) String() string {
	switch a {
	case ActivationCID:
		return "CID"
	case ActivationHCD:
		return "HCD"
	case ActivationETD:
		return "ETD"
	case ActivationECD:
		return "ECD"
	case ActivationPQD:
		return "PQD"
	}
	return "unknown"
}

// Reaction describes the precursor selection of an MSn scan as the
// instrument recorded it.
type Reaction struct {
	// PrecursorMass is the selected ion m/z.
	PrecursorMass float64
	// IsolationWidth is the full width of the isolation window.
	IsolationWidth float64
	// Charge is the precursor charge state, 0 when unknown.
	Charge     int
	Activation Activation
}

// ScanRecord is one scan with its peak data. A scan carries a profile
// trace, a centroid peak list, or both; absent representations have
// empty slices.
type ScanRecord struct {
	ScanNumber int
	// RetentionTime is in minutes.
	RetentionTime float64
	MSLevel       int
	Polarity      Polarity

	// Mz and Intensity hold the profile trace.
	Mz        []float64
	Intensity []float64
	// CentroidMz and CentroidIntensity hold the centroided peaks.
	CentroidMz        []float64
	CentroidIntensity []float64

	// Reaction is nil for MS1 scans.
	Reaction *Reaction
	// MonoisotopicMz is the instrument-determined monoisotopic
	// precursor m/z, 0 when not recorded.
	MonoisotopicMz float64
	// TrailerIsolationWidth overrides Reaction.IsolationWidth when
	// above 0, some instruments record the effective width separately.
	TrailerIsolationWidth float64
	// PrecursorScanNumber is the scan the precursor was selected
	// from, 0 when unknown.
	PrecursorScanNumber int
}

// HasProfile reports whether the scan carries a profile trace.
func (s *ScanRecord) HasProfile() bool {
	return len(s.Mz) > 0
}

// HasCentroid reports whether the scan carries centroided peaks.
func (s *ScanRecord) HasCentroid() bool {
	return len(s.CentroidMz) > 0
}

// InstrumentMetadata describes the acquisition run as a whole.
type InstrumentMetadata struct {
	InstrumentName   string
	InstrumentModel  string
	SerialNumber     string
	FileRevision     string
	CreationTime     time.Time
	SampleVial       string
	MinRetentionTime float64
	MaxRetentionTime float64
}

// InstrumentKind selects one of the instruments that contributed data
// to an acquisition file.
type InstrumentKind int

const (
	InstrumentMS InstrumentKind = iota
	InstrumentPDA
	InstrumentUV
	InstrumentAnalog
	InstrumentOther
)

// ScanSource is a readable instrument data file. Before scans can be
// accessed an instrument must be selected with SelectInstrument.
type ScanSource interface {
	// IsOpen reports whether the source was opened successfully.
	IsOpen() bool
	// Err returns the error condition the instrument recorded in the
	// file, or nil.
	Err() error
	// IsAcquiring reports whether the file is still being written.
	IsAcquiring() bool
	// SelectInstrument makes the scans of the given instrument
	// available. Index counts from 1.
	SelectInstrument(kind InstrumentKind, index int) error
	// FirstScanNumber and LastScanNumber delimit the scan number
	// range of the selected instrument, both inclusive.
	FirstScanNumber() int
	LastScanNumber() int
	// Scan returns the scan with the given number.
	Scan(number int) (*ScanRecord, error)
	// InstrumentMetadata returns the run-level metadata.
	InstrumentMetadata() (InstrumentMetadata, error)
	Close() error
}
