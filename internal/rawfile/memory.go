package rawfile

import (
	"fmt"
	"sort"
)

// MemorySource is a ScanSource backed by a slice of scan records.
// It is used by tests and by callers that already hold decoded scans.
type MemorySource struct {
	meta      InstrumentMetadata
	scans     []ScanRecord
	byNumber  map[int]int
	first     int
	last      int
	acquiring bool
	errState  error
	open      bool
	selected  bool
}

// NewMemorySource returns a source serving the given scans. The scan
// records are kept sorted by scan number.
func NewMemorySource(meta InstrumentMetadata, scans []ScanRecord) *MemorySource {
	m := &MemorySource{
		meta:     meta,
		scans:    scans,
		byNumber: make(map[int]int, len(scans)),
		open:     true,
	}
	sort.SliceStable(m.scans, func(i, j int) bool {
		return m.scans[i].ScanNumber < m.scans[j].ScanNumber
	})
	for i := range m.scans {
		m.byNumber[m.scans[i].ScanNumber] = i
	}
	if len(m.scans) > 0 {
		m.first = m.scans[0].ScanNumber
		m.last = m.scans[len(m.scans)-1].ScanNumber
	}
	return m
}

// SetAcquiring marks the source as still being written.
func (m *MemorySource) SetAcquiring(acquiring bool) {
	m.acquiring = acquiring
}

// SetErr sets the error condition reported by Err.
func (m *MemorySource) SetErr(err error) {
	m.errState = err
}

func (m *MemorySource) IsOpen() bool {
	return m.open
}

func (m *MemorySource) Err() error {
	return m.errState
}

func (m *MemorySource) IsAcquiring() bool {
	return m.acquiring
}

func (m *MemorySource) SelectInstrument(kind InstrumentKind, index int) error {
	if kind != InstrumentMS || index != 1 {
		return fmt.Errorf("%w: no instrument of kind %d at index %d", ErrMissingField, kind, index)
	}
	m.selected = true
	return nil
}

func (m *MemorySource) FirstScanNumber() int {
	return m.first
}

func (m *MemorySource) LastScanNumber() int {
	return m.last
}

func (m *MemorySource) Scan(number int) (*ScanRecord, error) {
	if !m.open {
		return nil, fmt.Errorf("%w: source is closed", ErrSourceUnreadable)
	}
	if !m.selected {
		return nil, fmt.Errorf("%w: no instrument selected", ErrInvalidScanNumber)
	}
	i, ok := m.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScanNumber, number)
	}
	return &m.scans[i], nil
}

func (m *MemorySource) InstrumentMetadata() (InstrumentMetadata, error) {
	return m.meta, nil
}

func (m *MemorySource) Close() error {
	m.open = false
	return nil
}
