package config

import (
	"errors"
	"testing"
)

func validConfig() Config {
	return Config{
		SourcePath:      "sample.mzML",
		OutputDirectory: "out",
		Format:          FormatMGF,
		PeakPicking:     true,
		ZlibCompression: true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "no input", mutate: func(c *Config) { c.SourcePath = "" }, wantErr: true},
		{name: "no output", mutate: func(c *Config) { c.OutputDirectory = "" }, wantErr: true},
		{name: "both outputs", mutate: func(c *Config) { c.OutputFile = "out.mgf" }, wantErr: true},
		{name: "output file only", mutate: func(c *Config) {
			c.OutputDirectory = ""
			c.OutputFile = "out.mgf"
		}, wantErr: false},
		{name: "unknown format", mutate: func(c *Config) { c.Format = FormatUnknown }, wantErr: true},
		{name: "none format without metadata", mutate: func(c *Config) { c.Format = FormatNone }, wantErr: true},
		{name: "none format with metadata", mutate: func(c *Config) {
			c.Format = FormatNone
			c.Metadata = MetadataJSON
		}, wantErr: false},
		{name: "ms level zero", mutate: func(c *Config) { c.MSLevels = []int{0} }, wantErr: true},
		{name: "ms level filter", mutate: func(c *Config) { c.MSLevels = []int{2, 3} }, wantErr: false},
		{name: "incomplete remote", mutate: func(c *Config) {
			c.Remote = &Remote{EndpointURL: "localhost:9000", Bucket: "spectra"}
		}, wantErr: true},
		{name: "complete remote", mutate: func(c *Config) {
			c.Remote = &Remote{
				EndpointURL: "localhost:9000",
				AccessKey:   "key",
				SecretKey:   "secret",
				Bucket:      "spectra",
			}
		}, wantErr: false},
	}
	for _, tc := range tests {
		cfg := validConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("Validate() %s: got error %v, want error %v", tc.name, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("Validate() %s: error %v does not wrap ErrInvalidConfiguration", tc.name, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "mgf", want: FormatMGF},
		{in: "mzml", want: FormatMzML},
		{in: "indexed_mzml", want: FormatIndexedMzML},
		{in: "parquet", want: FormatParquet},
		{in: "none", want: FormatNone},
		{in: "mzXML", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormat(%q): got error %v, want error %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseFormat(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatExtension(t *testing.T) {
	tests := []struct {
		f    Format
		want string
	}{
		{f: FormatMGF, want: ".mgf"},
		{f: FormatMzML, want: ".mzML"},
		{f: FormatIndexedMzML, want: ".mzML"},
		{f: FormatParquet, want: ".parquet"},
		{f: FormatNone, want: ""},
	}
	for _, tc := range tests {
		if got := tc.f.Extension(); got != tc.want {
			t.Errorf("Extension() of %v: got %q, want %q", tc.f, got, tc.want)
		}
	}
}

func TestWantsLevel(t *testing.T) {
	all := validConfig()
	if !all.WantsLevel(1) || !all.WantsLevel(5) {
		t.Errorf("WantsLevel() without filter must accept all levels")
	}
	filtered := validConfig()
	filtered.MSLevels = []int{2}
	if filtered.WantsLevel(1) {
		t.Errorf("WantsLevel(1) with filter [2]: got true, want false")
	}
	if !filtered.WantsLevel(2) {
		t.Errorf("WantsLevel(2) with filter [2]: got false, want true")
	}
}
