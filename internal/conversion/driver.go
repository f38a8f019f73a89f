// Package conversion drives a single run: open the source, validate
// it, resolve the scan range and hand the scans to the configured
// writers.
package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/rawfile"
	"github.com/524D/mzexport/internal/writer"
)

// State is the phase a conversion run is in. A run moves forward
// only; the failed state is terminal and reachable from every
// non-terminal state.
type State int

const (
	StateUnopened State = iota
	StateOpened
	StateValidated
	StateConverting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpened:
		return "opened"
	case StateValidated:
		return "validated"
	case StateConverting:
		return "converting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Driver runs one conversion from source validation to the last
// output byte. A Driver is single use.
type Driver struct {
	cfg        *config.Config
	log        *slog.Logger
	src        rawfile.ScanSource
	state      State
	ownsSource bool
}

// New returns a driver that opens cfg.SourcePath itself.
func New(cfg *config.Config, log *slog.Logger) *Driver {
	return &Driver{cfg: cfg, log: log, ownsSource: true}
}

// NewWithSource returns a driver converting an already opened source.
// The caller keeps ownership of the source.
func NewWithSource(cfg *config.Config, log *slog.Logger, src rawfile.ScanSource) *Driver {
	return &Driver{cfg: cfg, log: log, src: src}
}

// State returns the phase the driver is in.
func (d *Driver) State() State {
	return d.state
}

// Run executes the conversion. The first error moves the driver to
// the failed state and is returned once; it is not logged here, that
// is up to the caller.
func (d *Driver) Run(ctx context.Context) error {
	if d.state != StateUnopened {
		return fmt.Errorf("conversion: driver already ran, state %s", d.state)
	}
	if err := d.run(ctx); err != nil {
		d.state = StateFailed
		return err
	}
	d.state = StateDone
	return nil
}

func (d *Driver) run(ctx context.Context) error {
	start := time.Now()
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	if d.src == nil {
		src, err := rawfile.Open(d.cfg.SourcePath)
		if err != nil {
			return err
		}
		d.src = src
		defer func() {
			if err := src.Close(); err != nil {
				d.log.Warn("closing source", "error", err)
			}
		}()
	}
	d.state = StateOpened
	d.log.Debug("source opened", "path", d.cfg.SourcePath)

	if !d.src.IsOpen() {
		return fmt.Errorf("%w: %s", rawfile.ErrSourceUnreadable, d.cfg.SourcePath)
	}
	if err := d.src.Err(); err != nil {
		return fmt.Errorf("source reports error: %w", err)
	}
	if d.src.IsAcquiring() {
		return fmt.Errorf("%w: %s", rawfile.ErrSourceAcquiring, d.cfg.SourcePath)
	}
	d.state = StateValidated
	d.log.Debug("source validated")

	if err := d.src.SelectInstrument(rawfile.InstrumentMS, 1); err != nil {
		return err
	}
	first, last := d.src.FirstScanNumber(), d.src.LastScanNumber()
	if first < 1 || last < first {
		return fmt.Errorf("%w: source contains no scans", rawfile.ErrSourceUnreadable)
	}
	d.state = StateConverting
	d.log.Info("converting", "scans", fmt.Sprintf("%d..%d", first, last))

	if d.cfg.Metadata != config.MetadataNone {
		if err := writer.WriteMetadata(ctx, d.cfg, d.log, d.src, first, last); err != nil {
			return err
		}
	}
	if d.cfg.Format != config.FormatNone {
		if err := writer.Run(ctx, d.cfg, d.log, d.src, first, last); err != nil {
			return err
		}
	}
	d.log.Info("conversion finished", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
