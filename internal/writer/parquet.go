package writer

import (
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/524D/mzexport/internal/rawfile"
)

// peakRow is one peak in the row-per-peak Parquet layout. The schema
// is fixed across the run, precursor columns are zero for MS1 rows.
type peakRow struct {
	ScanNumber    int32   `parquet:"scannumber"`
	MSLevel       int32   `parquet:"mslevel"`
	RetentionTime float64 `parquet:"retentiontime"`
	Polarity      string  `parquet:"polarity,dict"`
	Mz            float64 `parquet:"mz"`
	Intensity     float64 `parquet:"intensity"`
	Charge        int32   `parquet:"charge"`
	PrecursorMz   float64 `parquet:"precursormz"`
}

// parquetWriter emits spectra as Parquet, one row per peak.
type parquetWriter struct {
	pw  *parquet.GenericWriter[peakRow]
	buf []peakRow
}

func newParquetWriter() *parquetWriter {
	return &parquetWriter{}
}

func (p *parquetWriter) begin(w io.Writer, _ rawfile.InstrumentMetadata, _, _ int) error {
	p.pw = parquet.NewGenericWriter[peakRow](w, parquet.Compression(&zstd.Codec{}))
	return nil
}

func (p *parquetWriter) spectrum(rec *SpectrumRecord) error {
	p.buf = p.buf[:0]
	for i, mz := range rec.Mz {
		p.buf = append(p.buf, peakRow{
			ScanNumber:    int32(rec.ScanNumber),
			MSLevel:       int32(rec.MSLevel),
			RetentionTime: rec.RetentionTime,
			Polarity:      rec.Polarity.String(),
			Mz:            mz,
			Intensity:     rec.Intensity[i],
			Charge:        int32(rec.Charge),
			PrecursorMz:   rec.SelectedIonMz,
		})
	}
	if len(p.buf) == 0 {
		return nil
	}
	_, err := p.pw.Write(p.buf)
	return err
}

func (p *parquetWriter) end() error {
	return p.pw.Close()
}
