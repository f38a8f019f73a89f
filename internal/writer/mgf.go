package writer

import (
	"bufio"
	"io"
	"strconv"

	"github.com/524D/mzexport/internal/rawfile"
)

// mgfWriter emits fragmentation spectra in Mascot generic format.
// MS1 spectra have no MGF representation and are skipped.
type mgfWriter struct {
	w *bufio.Writer
}

func newMGFWriter() *mgfWriter {
	return &mgfWriter{}
}

func (m *mgfWriter) begin(w io.Writer, _ rawfile.InstrumentMetadata, _, _ int) error {
	m.w = bufio.NewWriter(w)
	return nil
}

func (m *mgfWriter) spectrum(rec *SpectrumRecord) error {
	if rec.MSLevel <= 1 {
		return nil
	}
	m.w.WriteString("BEGIN IONS\n")
	m.w.WriteString("TITLE=" + rec.NativeID + "\n")
	m.w.WriteString("RTINSECONDS=" + ftoa(rec.RetentionTime*60) + "\n")
	pepmass := "PEPMASS=" + ftoa(rec.SelectedIonMz)
	if rec.HasPrecursorIntensity {
		pepmass += " " + ftoa(rec.PrecursorIntensity)
	}
	m.w.WriteString(pepmass + "\n")
	if rec.Charge != 0 {
		sign := "+"
		if rec.Polarity == rawfile.PolarityNegative {
			sign = "-"
		}
		m.w.WriteString("CHARGE=" + strconv.Itoa(rec.Charge) + sign + "\n")
	}
	for i, mz := range rec.Mz {
		m.w.WriteString(ftoa(mz) + " " + ftoa(rec.Intensity[i]) + "\n")
	}
	_, err := m.w.WriteString("END IONS\n\n")
	return err
}

func (m *mgfWriter) end() error {
	return m.w.Flush()
}

// ftoa formats a float with the shortest representation that survives
// a round trip.
func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
