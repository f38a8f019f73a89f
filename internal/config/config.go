// Package config holds the conversion settings shared by the command
// line front end and the conversion driver. A Config is filled once,
// validated, and then treated as read-only for the rest of the run.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is wrapped by all validation failures.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Format selects the spectrum output format of a run.
type Format int

const (
	FormatUnknown Format = iota
	FormatMGF
	FormatMzML
	FormatIndexedMzML
	FormatParquet
	// FormatNone suppresses spectrum output, for metadata-only runs.
	FormatNone
)

// ParseFormat maps a command line format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "mgf":
		return FormatMGF, nil
	case "mzml":
		return FormatMzML, nil
	case "indexed_mzml":
		return FormatIndexedMzML, nil
	case "parquet":
		return FormatParquet, nil
	case "none":
		return FormatNone, nil
	}
	return FormatUnknown, fmt.Errorf("%w: unknown output format %q", ErrInvalidConfiguration, s)
}

func (f Format) String() string {
	switch f {
	case FormatMGF:
		return "mgf"
	case FormatMzML:
		return "mzml"
	case FormatIndexedMzML:
		return "indexed_mzml"
	case FormatParquet:
		return "parquet"
	case FormatNone:
		return "none"
	}
	return "unknown"
}

// Extension returns the file name extension of the format,
// including the leading dot. Indexed and plain mzML share one.
func (f Format) Extension() string {
	switch f {
	case FormatMGF:
		return ".mgf"
	case FormatMzML, FormatIndexedMzML:
		return ".mzML"
	case FormatParquet:
		return ".parquet"
	}
	return ""
}

// MetadataFormat selects the optional run metadata file format.
type MetadataFormat int

const (
	MetadataNone MetadataFormat = iota
	MetadataJSON
	MetadataTXT
)

// ParseMetadataFormat maps a command line metadata format name to a
// MetadataFormat. The empty string means no metadata output.
func ParseMetadataFormat(s string) (MetadataFormat, error) {
	switch s {
	case "":
		return MetadataNone, nil
	case "json":
		return MetadataJSON, nil
	case "txt":
		return MetadataTXT, nil
	}
	return MetadataNone, fmt.Errorf("%w: unknown metadata format %q", ErrInvalidConfiguration, s)
}

func (m MetadataFormat) String() string {
	switch m {
	case MetadataJSON:
		return "json"
	case MetadataTXT:
		return "txt"
	}
	return "none"
}

// SpectrumMode is the peak representation requested for an MS level.
type SpectrumMode int

const (
	ModeCentroid SpectrumMode = iota
	ModeProfile
)

// ParseSpectrumMode maps a command line mode name to a SpectrumMode.
func ParseSpectrumMode(s string) (SpectrumMode, error) {
	switch s {
	case "centroid":
		return ModeCentroid, nil
	case "profile":
		return ModeProfile, nil
	}
	return ModeCentroid, fmt.Errorf("%w: unknown spectrum mode %q", ErrInvalidConfiguration, s)
}

func (m SpectrumMode) String() string {
	if m == ModeProfile {
		return "profile"
	}
	return "centroid"
}

// Verbosity controls the amount of console output.
type Verbosity int

const (
	VerbosityDefault Verbosity = iota
	VerbositySilent
	VerbosityVerbose
)

// Remote describes an S3 compatible upload target. Either all fields
// are set or no remote upload is performed.
type Remote struct {
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Bucket      string
}

func (r *Remote) complete() bool {
	return r.EndpointURL != "" && r.AccessKey != "" && r.SecretKey != "" && r.Bucket != ""
}

// Config are the settings of a single conversion run.
type Config struct {
	// SourcePath is the instrument data file to convert.
	SourcePath string
	// OutputDirectory receives an output file named after the source.
	// Mutually exclusive with OutputFile.
	OutputDirectory string
	// OutputFile is the explicit output file path.
	OutputFile string

	Format   Format
	Metadata MetadataFormat

	// Gzip wraps the spectrum output in a gzip stream. Ignored for
	// indexed mzML, which needs byte positions in the plain file.
	Gzip bool

	// Ms1Mode and MsnMode request the peak representation per MS
	// level. When a scan does not carry the requested representation
	// the other one is emitted instead.
	Ms1Mode SpectrumMode
	MsnMode SpectrumMode
	// PeakPicking false forces profile output for all MS levels.
	PeakPicking bool

	// ZlibCompression controls zlib compression of mzML peak arrays.
	ZlibCompression bool

	// IgnoreInstrumentErrors skips scans with missing or malformed
	// instrument data instead of aborting the run.
	IgnoreInstrumentErrors bool

	// MSLevels restricts spectrum output to the listed MS levels.
	// Empty means all levels.
	MSLevels []int

	// Remote, when non-nil, streams the spectrum output to an S3
	// compatible bucket instead of the local file system.
	Remote *Remote

	Verbosity Verbosity

	// ToolName and ToolVersion identify the converter in output
	// metadata sections.
	ToolName    string
	ToolVersion string
}

// WantsLevel reports whether spectra of the given MS level are
// selected for output.
func (c *Config) WantsLevel(level int) bool {
	if len(c.MSLevels) == 0 {
		return true
	}
	for _, l := range c.MSLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Validate checks the configuration before any file is opened.
func (c *Config) Validate() error {
	if c.SourcePath == "" {
		return fmt.Errorf("%w: no input file given", ErrInvalidConfiguration)
	}
	if c.OutputDirectory == "" && c.OutputFile == "" {
		return fmt.Errorf("%w: no output directory or output file given", ErrInvalidConfiguration)
	}
	if c.OutputDirectory != "" && c.OutputFile != "" {
		return fmt.Errorf("%w: output directory and output file are mutually exclusive", ErrInvalidConfiguration)
	}
	switch c.Format {
	case FormatMGF, FormatMzML, FormatIndexedMzML, FormatParquet:
	case FormatNone:
		if c.Metadata == MetadataNone {
			return fmt.Errorf("%w: nothing to do, no spectrum format and no metadata format", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown output format", ErrInvalidConfiguration)
	}
	for _, l := range c.MSLevels {
		if l < 1 {
			return fmt.Errorf("%w: MS level %d out of range", ErrInvalidConfiguration, l)
		}
	}
	if c.Remote != nil && !c.Remote.complete() {
		return fmt.Errorf("%w: remote upload needs endpoint URL, access key, secret key and bucket", ErrInvalidConfiguration)
	}
	return nil
}
