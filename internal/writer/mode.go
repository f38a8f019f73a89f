package writer

import (
	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/rawfile"
)

// peaksFor selects the peak arrays to serialize for a scan. The
// representation requested for the scan's MS level wins when the scan
// carries it, otherwise the one the scan does carry is used. With
// peak picking disabled profile data is preferred at every level.
func peaksFor(cfg *config.Config, scan *rawfile.ScanRecord) (mz, intensity []float64, centroided bool) {
	mode := cfg.Ms1Mode
	if scan.MSLevel > 1 {
		mode = cfg.MsnMode
	}
	if !cfg.PeakPicking {
		mode = config.ModeProfile
	}
	if mode == config.ModeCentroid {
		if scan.HasCentroid() {
			return scan.CentroidMz, scan.CentroidIntensity, true
		}
		return scan.Mz, scan.Intensity, false
	}
	if scan.HasProfile() {
		return scan.Mz, scan.Intensity, false
	}
	return scan.CentroidMz, scan.CentroidIntensity, true
}
