package rawfile

import (
	"errors"
	"testing"
	"time"
)

func testScans() []ScanRecord {
	return []ScanRecord{
		{
			ScanNumber:        3,
			RetentionTime:     1.2,
			MSLevel:           2,
			Polarity:          PolarityPositive,
			CentroidMz:        []float64{101.0},
			CentroidIntensity: []float64{10.0},
			Reaction: &Reaction{
				PrecursorMass:  445.12,
				IsolationWidth: 2.0,
				Charge:         2,
				Activation:     ActivationHCD,
			},
			PrecursorScanNumber: 1,
		},
		{
			ScanNumber:    1,
			RetentionTime: 1.0,
			MSLevel:       1,
			Polarity:      PolarityPositive,
			Mz:            []float64{100.0, 200.5},
			Intensity:     []float64{1000.0, 2000.0},
		},
	}
}

func TestMemorySource(t *testing.T) {
	meta := InstrumentMetadata{
		InstrumentName: "test instrument",
		CreationTime:   time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
	}
	m := NewMemorySource(meta, testScans())
	if !m.IsOpen() {
		t.Errorf("IsOpen: false, should be true")
	}
	if m.Err() != nil {
		t.Errorf("Err: %v, should be nil", m.Err())
	}
	if m.IsAcquiring() {
		t.Errorf("IsAcquiring: true, should be false")
	}
	// scans are sorted by scan number on construction
	if m.FirstScanNumber() != 1 || m.LastScanNumber() != 3 {
		t.Errorf("scan range %d..%d, should be 1..3", m.FirstScanNumber(), m.LastScanNumber())
	}

	_, err := m.Scan(1)
	if !errors.Is(err, ErrInvalidScanNumber) {
		t.Errorf("Scan before SelectInstrument: error return %v", err)
	}
	if err := m.SelectInstrument(InstrumentMS, 1); err != nil {
		t.Fatalf("SelectInstrument: error return %v", err)
	}
	if err := m.SelectInstrument(InstrumentPDA, 1); err == nil {
		t.Errorf("SelectInstrument: no error for missing instrument")
	}

	s, err := m.Scan(1)
	if err != nil {
		t.Fatalf("Scan(1): error return %v", err)
	}
	if s.MSLevel != 1 || !s.HasProfile() || s.HasCentroid() {
		t.Errorf("Scan(1): level %d profile %v centroid %v", s.MSLevel, s.HasProfile(), s.HasCentroid())
	}
	s, err = m.Scan(3)
	if err != nil {
		t.Fatalf("Scan(3): error return %v", err)
	}
	if s.Reaction == nil || s.Reaction.PrecursorMass != 445.12 {
		t.Errorf("Scan(3): reaction %+v", s.Reaction)
	}
	_, err = m.Scan(2)
	if !errors.Is(err, ErrInvalidScanNumber) {
		t.Errorf("Scan(2): error return %v, should be ErrInvalidScanNumber", err)
	}

	got, err := m.InstrumentMetadata()
	if err != nil || got.InstrumentName != "test instrument" {
		t.Errorf("InstrumentMetadata: %+v (err %v)", got, err)
	}

	m.SetAcquiring(true)
	if !m.IsAcquiring() {
		t.Errorf("IsAcquiring: false after SetAcquiring(true)")
	}
	instrErr := errors.New("sensor fault")
	m.SetErr(instrErr)
	if !errors.Is(m.Err(), instrErr) {
		t.Errorf("Err: %v, should be the set error", m.Err())
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: error return %v", err)
	}
	if m.IsOpen() {
		t.Errorf("IsOpen: true after Close")
	}
	_, err = m.Scan(1)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Scan after Close: error return %v", err)
	}
}
