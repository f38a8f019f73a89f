package mzml

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"hash"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"gonum.org/v1/gonum/floats"
)

// Header describes the run level content of an mzML file to write.
type Header struct {
	// Indexed selects the indexedmzML wrapper with a byte offset
	// index and file checksum.
	Indexed bool
	// Zlib compresses the peak data arrays.
	Zlib bool
	// ID is the run id, usually the source file name without extension.
	ID string
	// SourcePath is the instrument data file the spectra come from.
	SourcePath string
	// StartTime is the acquisition start, zero to omit.
	StartTime        time.Time
	InstrumentModel  string
	InstrumentSerial string
	SoftwareID       string
	SoftwareVersion  string
	// SpectrumCount is the number of spectra that will be written.
	SpectrumCount int
}

// SpectrumPrecursor describes the precursor of an MSn spectrum.
type SpectrumPrecursor struct {
	// NativeID of the spectrum the precursor was selected from,
	// empty when unknown.
	NativeID string
	// IsolationTarget is the isolation window target m/z.
	IsolationTarget float64
	// IsolationWidth is the full width of the isolation window.
	IsolationWidth float64
	SelectedIonMz  float64
	// Charge is 0 when unknown.
	Charge int
	// Intensity is 0 when unknown.
	Intensity float64
	// ActivationAccession is the CV accession of the dissociation
	// method, empty when unknown.
	ActivationAccession string
}

// SpectrumData is one spectrum to write.
type SpectrumData struct {
	NativeID string
	MSLevel  int
	Centroid bool
	Polarity Polarity
	// RetentionTime is in minutes.
	RetentionTime float64
	// MonoisotopicMz is the instrument-determined monoisotopic
	// precursor m/z, 0 to omit.
	MonoisotopicMz float64
	Mz             []float64
	Intensity      []float64
	Precursor      *SpectrumPrecursor
}

// StreamWriter writes an mzML document spectrum by spectrum. All
// output passes through a byte counter and SHA-1 hash so the indexed
// variant can emit exact offsets and the file checksum.
type StreamWriter struct {
	cw       *countingWriter
	h        Header
	indent   string // indent of the mzML element
	n        int
	offsets  []spectrumOffset
	finished bool
}

type spectrumOffset struct {
	id  string
	pos int64
}

type countingWriter struct {
	w   io.Writer
	n   int64
	h   hash.Hash
	err error
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.h.Write(p[:n])
	if err != nil {
		cw.err = err
	}
	return n, err
}

const (
	mzMLNamespace  = "http://psi.hupo.org/ms/mzml"
	mzMLVersion    = "1.1.0"
	schemaLocation = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.0.xsd"
	schemaLocIdx   = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.2_idx.xsd"
)

// NewStreamWriter writes the mzML header up to the open spectrumList
// tag and returns a writer accepting spectra.
func NewStreamWriter(w io.Writer, h Header) (*StreamWriter, error) {
	sw := &StreamWriter{
		cw: &countingWriter{w: w, h: sha1.New()},
		h:  h,
	}
	if h.Indexed {
		sw.indent = "  "
	}
	sw.writeHeader()
	if sw.cw.err != nil {
		return nil, sw.cw.err
	}
	return sw, nil
}

func (sw *StreamWriter) writeHeader() {
	h := &sw.h
	in := sw.indent
	fmt.Fprint(sw.cw, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	if h.Indexed {
		fmt.Fprintf(sw.cw,
			"<indexedmzML xmlns=\"%s\" xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\" xsi:schemaLocation=\"%s\">\n",
			mzMLNamespace, schemaLocIdx)
		fmt.Fprintf(sw.cw, "%s<mzML id=\"%s\" version=\"%s\">\n", in, xmlEscape(h.ID), mzMLVersion)
	} else {
		fmt.Fprintf(sw.cw,
			"<mzML xmlns=\"%s\" xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\" xsi:schemaLocation=\"%s\" id=\"%s\" version=\"%s\">\n",
			mzMLNamespace, schemaLocation, xmlEscape(h.ID), mzMLVersion)
	}

	fmt.Fprintf(sw.cw, "%s  <cvList count=\"2\">\n", in)
	fmt.Fprintf(sw.cw, "%s    <cv id=\"MS\" fullName=\"Proteomics Standards Initiative Mass Spectrometry Ontology\" version=\"4.1.79\" URI=\"https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo\"/>\n", in)
	fmt.Fprintf(sw.cw, "%s    <cv id=\"UO\" fullName=\"Unit Ontology\" version=\"09:04:2014\" URI=\"https://raw.githubusercontent.com/bio-ontology-research-group/unit-ontology/master/unit.obo\"/>\n", in)
	fmt.Fprintf(sw.cw, "%s  </cvList>\n", in)

	fmt.Fprintf(sw.cw, "%s  <fileDescription>\n", in)
	fmt.Fprintf(sw.cw, "%s    <fileContent>\n", in)
	fmt.Fprintf(sw.cw, "%s      <cvParam cvRef=\"MS\" accession=\"MS:1000579\" name=\"MS1 spectrum\" value=\"\"/>\n", in)
	fmt.Fprintf(sw.cw, "%s      <cvParam cvRef=\"MS\" accession=\"MS:1000580\" name=\"MSn spectrum\" value=\"\"/>\n", in)
	fmt.Fprintf(sw.cw, "%s    </fileContent>\n", in)
	if h.SourcePath != "" {
		acc, name := sourceFormatCV(h.SourcePath)
		fmt.Fprintf(sw.cw, "%s    <sourceFileList count=\"1\">\n", in)
		fmt.Fprintf(sw.cw, "%s      <sourceFile id=\"SOURCE1\" name=\"%s\" location=\"%s\">\n",
			in, xmlEscape(filepath.Base(h.SourcePath)), xmlEscape("file://"+filepath.Dir(h.SourcePath)))
		fmt.Fprintf(sw.cw, "%s        <cvParam cvRef=\"MS\" accession=\"MS:1000768\" name=\"Thermo nativeID format\" value=\"\"/>\n", in)
		fmt.Fprintf(sw.cw, "%s        <cvParam cvRef=\"MS\" accession=\"%s\" name=\"%s\" value=\"\"/>\n", in, acc, name)
		fmt.Fprintf(sw.cw, "%s      </sourceFile>\n", in)
		fmt.Fprintf(sw.cw, "%s    </sourceFileList>\n", in)
	}
	fmt.Fprintf(sw.cw, "%s  </fileDescription>\n", in)

	fmt.Fprintf(sw.cw, "%s  <softwareList count=\"1\">\n", in)
	fmt.Fprintf(sw.cw, "%s    <software id=\"%s\" version=\"%s\">\n", in, xmlEscape(h.SoftwareID), xmlEscape(h.SoftwareVersion))
	fmt.Fprintf(sw.cw, "%s      <cvParam cvRef=\"MS\" accession=\"MS:1000799\" name=\"custom unreleased software tool\" value=\"%s\"/>\n", in, xmlEscape(h.SoftwareID))
	fmt.Fprintf(sw.cw, "%s    </software>\n", in)
	fmt.Fprintf(sw.cw, "%s  </softwareList>\n", in)

	fmt.Fprintf(sw.cw, "%s  <instrumentConfigurationList count=\"1\">\n", in)
	fmt.Fprintf(sw.cw, "%s    <instrumentConfiguration id=\"IC1\">\n", in)
	fmt.Fprintf(sw.cw, "%s      <cvParam cvRef=\"MS\" accession=\"MS:1000031\" name=\"instrument model\" value=\"%s\"/>\n", in, xmlEscape(h.InstrumentModel))
	if h.InstrumentSerial != "" {
		fmt.Fprintf(sw.cw, "%s      <cvParam cvRef=\"MS\" accession=\"MS:1000529\" name=\"instrument serial number\" value=\"%s\"/>\n", in, xmlEscape(h.InstrumentSerial))
	}
	fmt.Fprintf(sw.cw, "%s    </instrumentConfiguration>\n", in)
	fmt.Fprintf(sw.cw, "%s  </instrumentConfigurationList>\n", in)

	fmt.Fprintf(sw.cw, "%s  <dataProcessingList count=\"1\">\n", in)
	fmt.Fprintf(sw.cw, "%s    <dataProcessing id=\"%s_conversion\">\n", in, xmlEscape(h.SoftwareID))
	fmt.Fprintf(sw.cw, "%s      <processingMethod order=\"0\" softwareRef=\"%s\">\n", in, xmlEscape(h.SoftwareID))
	fmt.Fprintf(sw.cw, "%s        <cvParam cvRef=\"MS\" accession=\"MS:1000544\" name=\"Conversion to mzML\" value=\"\"/>\n", in)
	fmt.Fprintf(sw.cw, "%s      </processingMethod>\n", in)
	fmt.Fprintf(sw.cw, "%s    </dataProcessing>\n", in)
	fmt.Fprintf(sw.cw, "%s  </dataProcessingList>\n", in)

	stamp := ""
	if !h.StartTime.IsZero() {
		stamp = fmt.Sprintf(" startTimeStamp=\"%s\"", h.StartTime.Format(time.RFC3339))
	}
	fmt.Fprintf(sw.cw, "%s  <run id=\"%s\" defaultInstrumentConfigurationRef=\"IC1\"%s>\n", in, xmlEscape(h.ID), stamp)
	fmt.Fprintf(sw.cw, "%s    <spectrumList count=\"%d\" defaultDataProcessingRef=\"%s_conversion\">\n",
		in, h.SpectrumCount, xmlEscape(h.SoftwareID))
}

// sourceFormatCV guesses the CV term describing the source file format.
func sourceFormatCV(path string) (string, string) {
	p := strings.ToLower(path)
	p = strings.TrimSuffix(p, ".gz")
	p = strings.TrimSuffix(p, ".gzip")
	if strings.HasSuffix(p, ".mzml") {
		return "MS:1000584", "mzML format"
	}
	return "MS:1000563", "Thermo RAW format"
}

// WriteSpectrum appends one spectrum to the spectrum list.
func (sw *StreamWriter) WriteSpectrum(sd SpectrumData) error {
	if sw.finished {
		return ErrWriterFinished
	}
	sp, err := sw.buildSpectrum(sd)
	if err != nil {
		return err
	}
	prefix := sw.indent + "      "
	data, err := xml.MarshalIndent(sp, prefix, "  ")
	if err != nil {
		return err
	}
	// MarshalIndent starts the first line with the prefix, so the
	// element itself begins prefix bytes into the output
	if sw.h.Indexed {
		sw.offsets = append(sw.offsets, spectrumOffset{id: sd.NativeID, pos: sw.cw.n + int64(len(prefix))})
	}
	sw.cw.Write(data)
	sw.cw.Write([]byte("\n"))
	sw.n++
	return sw.cw.err
}

func (sw *StreamWriter) buildSpectrum(sd SpectrumData) (*spectrum, error) {
	sp := &spectrum{
		Index:              sw.n,
		ID:                 sd.NativeID,
		DefaultArrayLength: int64(len(sd.Mz)),
	}

	sp.CvPar = append(sp.CvPar, cv("MS:1000511", "ms level", strconv.Itoa(sd.MSLevel)))
	if sd.MSLevel > 1 {
		sp.CvPar = append(sp.CvPar, cv("MS:1000580", "MSn spectrum", ""))
	} else {
		sp.CvPar = append(sp.CvPar, cv("MS:1000579", "MS1 spectrum", ""))
	}
	if sd.Centroid {
		sp.CvPar = append(sp.CvPar, cv("MS:1000127", "centroid spectrum", ""))
	} else {
		sp.CvPar = append(sp.CvPar, cv("MS:1000128", "profile spectrum", ""))
	}
	switch sd.Polarity {
	case PolarityPositive:
		sp.CvPar = append(sp.CvPar, cv("MS:1000130", "positive scan", ""))
	case PolarityNegative:
		sp.CvPar = append(sp.CvPar, cv("MS:1000129", "negative scan", ""))
	}
	if len(sd.Mz) > 0 && len(sd.Intensity) == len(sd.Mz) {
		baseIdx := floats.MaxIdx(sd.Intensity)
		sp.CvPar = append(sp.CvPar,
			cv("MS:1000285", "total ion current", floatAttr(floats.Sum(sd.Intensity))),
			cvUnit("MS:1000504", "base peak m/z", floatAttr(sd.Mz[baseIdx]), "MS", "MS:1000040", "m/z"),
			cvUnit("MS:1000505", "base peak intensity", floatAttr(sd.Intensity[baseIdx]), "MS", "MS:1000131", "number of detector counts"),
			cvUnit("MS:1000528", "lowest observed m/z", floatAttr(floats.Min(sd.Mz)), "MS", "MS:1000040", "m/z"),
			cvUnit("MS:1000527", "highest observed m/z", floatAttr(floats.Max(sd.Mz)), "MS", "MS:1000040", "m/z"),
		)
	}

	sc := scan{
		CvPar: []CVParam{
			cvUnit("MS:1000016", "scan start time", floatAttr(sd.RetentionTime), "UO", "UO:0000031", "minute"),
		},
	}
	if sd.MonoisotopicMz > 0 {
		sc.UserPar = append(sc.UserPar, userParam{
			Name:  "[Thermo Trailer Extra]Monoisotopic M/Z:",
			Value: floatAttr(sd.MonoisotopicMz),
			Type:  "xsd:float",
		})
	}
	sp.ScanList = scanList{
		Count: 1,
		CvPar: []CVParam{cv("MS:1000795", "no combination", "")},
		Scan:  []scan{sc},
	}

	if sd.Precursor != nil {
		sp.PrecursorList = []precursorList{{
			Count:     1,
			Precursor: []xmlPrecursor{buildPrecursor(sd.Precursor)},
		}}
	}

	mzBin, err := encodeBinaryFloats(sd.Mz, sw.h.Zlib, true)
	if err != nil {
		return nil, err
	}
	intensBin, err := encodeBinaryFloats(sd.Intensity, sw.h.Zlib, false)
	if err != nil {
		return nil, err
	}
	compressionCV := cv("MS:1000576", "no compression", "")
	if sw.h.Zlib {
		compressionCV = cv("MS:1000574", "zlib compression", "")
	}
	sp.BinaryDataArrayList = binaryDataArrayList{
		Count: 2,
		BinaryDataArray: []binaryDataArray{
			{
				EncodedLength: len(mzBin),
				ArrayLength:   len(sd.Mz),
				CvPar: []CVParam{
					cv("MS:1000523", "64-bit float", ""),
					compressionCV,
					cvUnit("MS:1000514", "m/z array", "", "MS", "MS:1000040", "m/z"),
				},
				Binary: mzBin,
			},
			{
				EncodedLength: len(intensBin),
				ArrayLength:   len(sd.Intensity),
				CvPar: []CVParam{
					cv("MS:1000521", "32-bit float", ""),
					compressionCV,
					cvUnit("MS:1000515", "intensity array", "", "MS", "MS:1000131", "number of detector counts"),
				},
				Binary: intensBin,
			},
		},
	}
	return sp, nil
}

func buildPrecursor(p *SpectrumPrecursor) xmlPrecursor {
	prec := xmlPrecursor{SpectrumRef: p.NativeID}
	if p.IsolationTarget > 0 {
		prec.IsolationWindow.CvPar = append(prec.IsolationWindow.CvPar,
			cvUnit("MS:1000827", "isolation window target m/z", floatAttr(p.IsolationTarget), "MS", "MS:1000040", "m/z"))
	}
	if p.IsolationWidth > 0 {
		half := floatAttr(p.IsolationWidth / 2)
		prec.IsolationWindow.CvPar = append(prec.IsolationWindow.CvPar,
			cvUnit("MS:1000828", "isolation window lower offset", half, "MS", "MS:1000040", "m/z"),
			cvUnit("MS:1000829", "isolation window upper offset", half, "MS", "MS:1000040", "m/z"))
	}
	ion := selectedIon{
		CvPar: []CVParam{
			cvUnit("MS:1000744", "selected ion m/z", floatAttr(p.SelectedIonMz), "MS", "MS:1000040", "m/z"),
		},
	}
	if p.Charge != 0 {
		ion.CvPar = append(ion.CvPar, cv("MS:1000041", "charge state", strconv.Itoa(p.Charge)))
	}
	if p.Intensity > 0 {
		ion.CvPar = append(ion.CvPar,
			cvUnit("MS:1000042", "peak intensity", floatAttr(p.Intensity), "MS", "MS:1000131", "number of detector counts"))
	}
	prec.SelectedIonList = selectedIonList{Count: 1, SelectedIon: []selectedIon{ion}}
	if p.ActivationAccession != "" {
		prec.Activation.CvPar = append(prec.Activation.CvPar,
			cv(p.ActivationAccession, ActivationName(p.ActivationAccession), ""))
	}
	return prec
}

// Finish closes the document. For indexed output it appends the
// spectrum offset index and the file checksum.
func (sw *StreamWriter) Finish() error {
	if sw.finished {
		return sw.cw.err
	}
	sw.finished = true
	in := sw.indent
	fmt.Fprintf(sw.cw, "%s    </spectrumList>\n", in)
	fmt.Fprintf(sw.cw, "%s  </run>\n", in)
	fmt.Fprintf(sw.cw, "%s</mzML>\n", in)
	if !sw.h.Indexed {
		return sw.cw.err
	}

	fmt.Fprint(sw.cw, "  ")
	indexListPos := sw.cw.n
	fmt.Fprint(sw.cw, "<indexList count=\"1\">\n")
	fmt.Fprintf(sw.cw, "    <index name=\"spectrum\">\n")
	for _, off := range sw.offsets {
		fmt.Fprintf(sw.cw, "      <offset idRef=\"%s\">%d</offset>\n", xmlEscape(off.id), off.pos)
	}
	fmt.Fprint(sw.cw, "    </index>\n")
	fmt.Fprint(sw.cw, "  </indexList>\n")
	fmt.Fprintf(sw.cw, "  <indexListOffset>%d</indexListOffset>\n", indexListPos)
	// The checksum covers everything up to and including the open
	// fileChecksum tag
	fmt.Fprint(sw.cw, "  <fileChecksum>")
	digest := hex.EncodeToString(sw.cw.h.Sum(nil))
	fmt.Fprintf(sw.cw, "%s</fileChecksum>\n", digest)
	fmt.Fprint(sw.cw, "</indexedmzML>\n")
	return sw.cw.err
}

// ActivationName returns the CV name of a dissociation method
// accession or a generic fallback.
func ActivationName(accession string) string {
	switch accession {
	case "MS:1000133":
		return "collision-induced dissociation"
	case "MS:1000422":
		return "beam-type collision-induced dissociation"
	case "MS:1000598":
		return "electron transfer dissociation"
	case "MS:1000250":
		return "electron capture dissociation"
	case "MS:1000599":
		return "pulsed q dissociation"
	}
	return "dissociation method"
}

func cv(accession, name, value string) CVParam {
	return CVParam{CvRef: "MS", Accession: accession, Name: name, Value: value}
}

func cvUnit(accession, name, value, unitCvRef, unitAccession, unitName string) CVParam {
	return CVParam{
		CvRef:         "MS",
		Accession:     accession,
		Name:          name,
		Value:         value,
		UnitCvRef:     unitCvRef,
		UnitAccession: unitAccession,
		UnitName:      unitName,
	}
}

func floatAttr(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// encodeBinaryFloats encodes one peak data array the way mzML stores
// it: little endian floats, optionally zlib compressed, base64. The
// m/z array keeps 64 bits, intensities are stored as 32-bit floats.
func encodeBinaryFloats(values []float64, zlibCompression bool, bits64 bool) (string, error) {
	var rawUncompressed []byte

	if bits64 {
		rawUncompressed = make([]byte, len(values)*8)
		for i, v := range values {
			u64bits := math.Float64bits(v)
			binary.LittleEndian.PutUint64(rawUncompressed[(8*i):], u64bits)
		}
	} else {
		rawUncompressed = make([]byte, len(values)*4)
		for i, v := range values {
			u32bits := math.Float32bits(float32(v))
			binary.LittleEndian.PutUint32(rawUncompressed[(4*i):], u32bits)
		}
	}
	data := rawUncompressed
	if zlibCompression {
		var b bytes.Buffer
		z := zlib.NewWriter(&b)
		if _, err := z.Write(rawUncompressed); err != nil {
			return "", err
		}
		// the zlib writer must be closed here, otherwise the stream is invalid
		if err := z.Close(); err != nil {
			return "", err
		}
		data = b.Bytes()
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
