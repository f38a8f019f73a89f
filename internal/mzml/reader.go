package mzml

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/html/charset"
)

// Read reads mzML file from an io.Reader
func Read(reader io.Reader) (MzML, error) {
	var mzML MzML

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// We are only interested in mzML content, so skip over indexedmzML
	// and everything else
	for {
		t, tokenErr := d.Token()
		if tokenErr != nil {
			if tokenErr == io.EOF {
				break
			}
			return mzML, tokenErr
		}
		switch t := t.(type) {
		case xml.StartElement:
			if t.Name.Local == "mzML" {
				if err := d.DecodeElement(&mzML.content, &t); err != nil {
					return mzML, err
				}
			}
		}
	}

	err := mzML.traverseScan()
	return mzML, err
}

// binaryDataPars decodes the CV terms in a mzML binarydata section
//
// CV Terms for binary data compression
// MS:1000574 zlib compression
// MS:1000576 No Compression
// MS:1002312 MS-Numpress linear prediction compression
// MS:1002313 MS-Numpress positive integer compression
// MS:1002314 MS-Numpress short logged float compression
// MS:1002746 MS-Numpress linear prediction compression followed by zlib compression
// MS:1002747 MS-Numpress positive integer compression followed by zlib compression
// MS:1002748 MS-Numpress short logged float compression followed by zlib compression
//
// CV Terms for binary data array types
// MS:1000514 m/z array
// MS:1000515 intensity array
//
// CV Terms for binary-data-type
// MS:1000521 32-bit float
// MS:1000523 64-bit float
func binaryDataPars(binaryDataArray *binaryDataArray) (
	bool, bool, bool, bool, error) {
	zlibCompression := bool(false) // Default: no compression
	bits64 := bool(false)          // Default: 32 bits
	mzArray := bool(false)
	intensityArray := bool(false)
	for _, cvParam := range binaryDataArray.CvPar {
		switch cvParam.Accession {
		case `MS:1000574`: // zlib compression
			zlibCompression = true
		case `MS:1000514`: // m/z array
			mzArray = true
		case `MS:1000515`: // intensity array
			intensityArray = true
		case `MS:1000523`: // 64-bit float
			bits64 = true
		case `MS:1002312`, `MS:1002313`, `MS:1002314`,
			`MS:1002746`, `MS:1002747`, `MS:1002748`:
			// MS-Numpress compression types
			return false, false, false, false,
				fmt.Errorf("%w: CV term %s", ErrUnknownCompression, cvParam.Accession)
		}
	}
	return zlibCompression, bits64, mzArray, intensityArray, nil
}

func fillScan(p []Peak, binaryDataArray *binaryDataArray) ([]Peak, error) {
	zlibCompression, bits64, mzArray, intensityArray, err :=
		binaryDataPars(binaryDataArray)
	if err != nil {
		return nil, err
	}
	// We are only interrested in mz and intensity
	if mzArray || intensityArray {
		data, err := base64.StdEncoding.DecodeString(binaryDataArray.Binary)
		if err != nil {
			return nil, err
		}
		if zlibCompression {
			b := bytes.NewReader(data)
			z, err := zlib.NewReader(b)
			if err != nil {
				return nil, err
			}
			defer z.Close()
			d, err := io.ReadAll(z)
			if err != nil {
				return nil, err
			}
			data = d
		}
		if bits64 {
			cnt := len(data) / 8
			if cnt > len(p) {
				cnt = len(p)
			}
			if mzArray {
				for i := 0; i < cnt; i++ {
					bits := binary.LittleEndian.Uint64(data[i*8:])
					p[i].Mz = math.Float64frombits(bits)
				}
			} else {
				for i := 0; i < cnt; i++ {
					bits := binary.LittleEndian.Uint64(data[i*8:])
					p[i].Intens = math.Float64frombits(bits)
				}
			}
		} else {
			cnt := len(data) / 4
			if cnt > len(p) {
				cnt = len(p)
			}
			if mzArray {
				for i := 0; i < cnt; i++ {
					bits := binary.LittleEndian.Uint32(data[i*4:])
					p[i].Mz = float64(math.Float32frombits(bits))
				}
			} else {
				for i := 0; i < cnt; i++ {
					bits := binary.LittleEndian.Uint32(data[i*4:])
					p[i].Intens = float64(math.Float32frombits(bits))
				}
			}
		}
	}
	return p, nil
}

// NumSpecs returns the number of spectra
func (f *MzML) NumSpecs() int {
	return len(f.content.Run.SpectrumList.Spectrum)
}

// RetentionTime returns the retention time of a spectrum in minutes
func (f *MzML) RetentionTime(scanIndex int) (float64, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0.0, ErrInvalidScanIndex
	}
	for _, scan := range f.content.Run.SpectrumList.Spectrum[scanIndex].ScanList.Scan {
		for _, cvParam := range scan.CvPar {
			if cvParam.Accession == "MS:1000016" {
				retentionTime, err := strconv.ParseFloat(cvParam.Value, 64)
				// Seconds are converted, anything else is taken
				// to be minutes already
				if cvParam.UnitAccession == "UO:0000010" {
					retentionTime /= 60
				}
				return retentionTime, err
			}
		}
	}
	return -1.0, nil
}

// ReadScan reads a single scan
// n is the sequence number of the scan in the mzML file,
// This is not the same as the scan number that is specified
// in the mzML file! To read a scan using the mzML number,
// use ReadScan(f, ScanIndex(f, scanNum))
func (f *MzML) ReadScan(scanIndex int) ([]Peak, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	p := make([]Peak, f.content.Run.SpectrumList.Spectrum[scanIndex].DefaultArrayLength)
	var err error
	for _, b := range f.content.Run.SpectrumList.Spectrum[scanIndex].BinaryDataArrayList.BinaryDataArray {
		p, err = fillScan(p, &b)
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

// Centroid returns true is the spectrum contains centroid peaks
func (f *MzML) Centroid(scanIndex int) (bool, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return false, ErrInvalidScanIndex
	}

	for _, cvParam := range f.content.Run.SpectrumList.Spectrum[scanIndex].CvPar {
		if cvParam.Accession == "MS:1000127" { // centroid spectrum
			return true, nil
		}
	}
	return false, nil
}

// MSLevel returns the MS level of a scan
func (f *MzML) MSLevel(scanIndex int) (int, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0, ErrInvalidScanIndex
	}

	for _, cvParam := range f.content.Run.SpectrumList.Spectrum[scanIndex].CvPar {
		if cvParam.Accession == "MS:1000511" { // ms level
			msLevel, err := strconv.ParseInt(cvParam.Value, 10, 64)
			return int(msLevel), err
		}
	}
	return 1, nil // If nothing else, guess it's MS1
}

// Polarity returns the ion mode of a spectrum
func (f *MzML) Polarity(scanIndex int) (Polarity, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return PolarityUnknown, ErrInvalidScanIndex
	}

	for _, cvParam := range f.content.Run.SpectrumList.Spectrum[scanIndex].CvPar {
		switch cvParam.Accession {
		case "MS:1000130": // positive scan
			return PolarityPositive, nil
		case "MS:1000129": // negative scan
			return PolarityNegative, nil
		}
	}
	return PolarityUnknown, nil
}

// MonoisotopicMz returns the instrument-determined monoisotopic m/z
// of the precursor, recorded as a user param on the scan, or 0 if
// the file does not carry it
func (f *MzML) MonoisotopicMz(scanIndex int) (float64, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0.0, ErrInvalidScanIndex
	}
	for _, scan := range f.content.Run.SpectrumList.Spectrum[scanIndex].ScanList.Scan {
		for _, userParam := range scan.UserPar {
			if strings.Contains(userParam.Name, "Monoisotopic M/Z") {
				mz, err := strconv.ParseFloat(userParam.Value, 64)
				if err != nil {
					return 0.0, err
				}
				return mz, nil
			}
		}
	}
	return 0.0, nil
}

// PrecursorInfo returns the decoded precursor description of a
// spectrum, or nil for spectra without precursor
func (f *MzML) PrecursorInfo(scanIndex int) (*PrecursorInfo, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	pl := f.content.Run.SpectrumList.Spectrum[scanIndex].PrecursorList
	if len(pl) == 0 || len(pl[0].Precursor) == 0 {
		return nil, nil
	}
	prec := &pl[0].Precursor[0]
	info := &PrecursorInfo{SpectrumRef: prec.SpectrumRef}
	for _, cvParam := range prec.IsolationWindow.CvPar {
		v, err := strconv.ParseFloat(cvParam.Value, 64)
		if err != nil {
			continue
		}
		switch cvParam.Accession {
		case "MS:1000827": // isolation window target m/z
			info.IsolationTarget = v
		case "MS:1000828": // isolation window lower offset
			info.IsolationLowerOffset = v
		case "MS:1000829": // isolation window upper offset
			info.IsolationUpperOffset = v
		}
	}
	if len(prec.SelectedIonList.SelectedIon) > 0 {
		for _, cvParam := range prec.SelectedIonList.SelectedIon[0].CvPar {
			switch cvParam.Accession {
			case "MS:1000744": // selected ion m/z
				info.SelectedIonMz, _ = strconv.ParseFloat(cvParam.Value, 64)
			case "MS:1000041": // charge state
				info.Charge, _ = strconv.Atoi(cvParam.Value)
			case "MS:1000042": // peak intensity
				info.Intensity, _ = strconv.ParseFloat(cvParam.Value, 64)
			}
		}
	}
	for _, cvParam := range prec.Activation.CvPar {
		if cvParam.Accession != "MS:1000045" { // skip collision energy
			info.ActivationAccession = cvParam.Accession
			break
		}
	}
	return info, nil
}

// InstrumentInfo returns the instrument model name and serial number
// from the first instrument configuration
func (f *MzML) InstrumentInfo() (string, string, error) {
	type instrumentConfiguration struct {
		XMLName xml.Name  `xml:"instrumentConfiguration"`
		CvPar   []CVParam `xml:"cvParam"`
	}

	if f.content.InstrumentConfigurationList == nil {
		return "", "", nil
	}
	var instrConf instrumentConfiguration
	err := xml.Unmarshal(f.content.InstrumentConfigurationList.InstrumentConfigurationListXML, &instrConf)
	if err != nil {
		return "", "", err
	}

	var model, serial string
	for _, cvParam := range instrConf.CvPar {
		if cvParam.Accession == "MS:1000529" { // instrument serial number
			serial = cvParam.Value
			continue
		}
		if model == "" {
			model = cvParam.Value
			if model == "" {
				model = cvParam.Name
			}
		}
	}
	return model, serial, nil
}

// StartTime returns the acquisition start time stamp of the run.
// The second return value is false if the file does not carry one.
func (f *MzML) StartTime() (time.Time, bool) {
	ts := f.content.Run.StartTimeStamp
	if ts == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Version returns the mzML format version of the document
func (f *MzML) Version() string {
	return f.content.Version
}

var scanNumRE = regexp.MustCompile(`scan=(\d+)`)

// traverseScan traverses all scans,
// collects info of all scans and
// fills the lookup tables that make scans accessible by id,
// index and scan number
func (f *MzML) traverseScan() error {
	f.index2id = make([]string, f.NumSpecs())
	f.index2num = make([]int, f.NumSpecs())
	f.id2Index = make(map[string]int, f.NumSpecs())
	f.num2Index = make(map[int]int, f.NumSpecs())

	for i := range f.content.Run.SpectrumList.Spectrum {
		if err := f.addSpecToIndex(i); err != nil {
			return err
		}
	}
	return nil
}

func (f *MzML) addSpecToIndex(i int) error {
	if i != f.content.Run.SpectrumList.Spectrum[i].Index {
		return ErrInvalidScanIndex
	}
	id := f.content.Run.SpectrumList.Spectrum[i].ID
	f.index2id[i] = id
	f.id2Index[id] = i
	num := scanNumFromID(id, i)
	f.index2num[i] = num
	if _, ok := f.num2Index[num]; !ok {
		f.num2Index[num] = i
	}
	return nil
}

// scanNumFromID extracts the scan number from a native spectrum id.
// Ids without a scan number get a number derived from the position.
func scanNumFromID(id string, index int) int {
	if n, ok := ScanNumberFromID(id); ok {
		return n
	}
	return index + 1
}

// ScanNumberFromID extracts the scan number from a native spectrum
// id like "controllerType=0 controllerNumber=1 scan=42". The second
// return value is false when the id does not carry a scan number.
func ScanNumberFromID(id string) (int, bool) {
	m := scanNumRE.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ScanIndex converts a scan identifier (the string used in the mzML file)
// into an index that is used to access the scans
func (f *MzML) ScanIndex(scanID string) (int, error) {
	if index, ok := f.id2Index[scanID]; ok {
		return index, nil
	}
	return 0, ErrInvalidScanID
}

// ScanID converts a scan index (used to access the scan data) into a scan id
// (used in the mzML file)
func (f *MzML) ScanID(scanIndex int) (string, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		return f.index2id[scanIndex], nil
	}
	return "", ErrInvalidScanIndex
}

// ScanNumber returns the scan number of a spectrum, parsed from its
// native id
func (f *MzML) ScanNumber(scanIndex int) (int, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		return f.index2num[scanIndex], nil
	}
	return 0, ErrInvalidScanIndex
}

// ScanIndexByNumber converts a scan number into the index that is
// used to access the scans
func (f *MzML) ScanIndexByNumber(scanNum int) (int, error) {
	if index, ok := f.num2Index[scanNum]; ok {
		return index, nil
	}
	return 0, ErrInvalidScanID
}
