// Package precursor corrects the reported precursor ion of
// fragmentation scans and looks up precursor peak intensities in the
// scan the ion was selected from.
package precursor

import (
	"errors"
	"math"
	"sort"

	"github.com/524D/mzexport/internal/rawfile"
)

// Default half-window offsets for validating a monoisotopic m/z
// against the selected precursor mass when the isolation window is
// narrow.
const (
	defaultLowerOffset = 1.5
	defaultUpperOffset = 2.5
)

// presenceThreshold separates recorded values from absent ones. The
// instrument writes 0 for fields it did not determine.
const presenceThreshold = 0.0001

// Resolve returns the precursor m/z to report for a fragmentation
// reaction. The instrument-determined monoisotopic m/z replaces the
// selected mass only when it differs from it and falls inside a
// plausibility window around it: the isolation window when that is
// wide, fixed default offsets otherwise. isolationWidth is a
// separately recorded full window width and may be 0, in which case
// the reaction's own width is used.
func Resolve(r *rawfile.Reaction, monoisotopicMz, isolationWidth float64) float64 {
	selected := r.PrecursorMass
	if isolationWidth < presenceThreshold {
		isolationWidth = r.IsolationWidth
	}
	isolationWidth /= 2

	if monoisotopicMz > presenceThreshold &&
		math.Abs(r.PrecursorMass-monoisotopicMz) > presenceThreshold {
		selected = monoisotopicMz
		lower := r.PrecursorMass - 2*defaultLowerOffset
		upper := r.PrecursorMass + defaultUpperOffset
		if isolationWidth > 2.0 {
			lower = r.PrecursorMass - isolationWidth
			upper = r.PrecursorMass + isolationWidth
		}
		if monoisotopicMz < lower || monoisotopicMz > upper {
			selected = r.PrecursorMass
		}
	}
	return selected
}

// matchTolerance is the centroid peak match window around the
// precursor mass.
const matchTolerance = 0.01

// rtWindow is the retention time range in minutes scanned on either
// side of the fragmentation scan when a chromatogram trace has to be
// derived.
const rtWindow = 0.1

// Intensity returns the peak intensity of the precursor ion in the
// scan it was selected from. The boolean is false when the intensity
// cannot be determined.
func Intensity(src rawfile.ScanSource, precursorScanNumber int, precursorMass, retentionTime, isolationWidth float64) (float64, bool) {
	if precursorScanNumber <= 0 || precursorMass <= 0 {
		return 0, false
	}
	scan, err := src.Scan(precursorScanNumber)
	if err != nil {
		return 0, false
	}
	if scan.HasCentroid() {
		for i, mz := range scan.CentroidMz {
			if math.Abs(mz-precursorMass) < matchTolerance {
				return scan.CentroidIntensity[i], true
			}
		}
		return 0, false
	}

	// No centroid stream to match against. Derive a chromatogram
	// trace over the isolation window around the precursor.
	half := isolationWidth / 2
	if half <= 0 {
		half = matchTolerance
	}
	_, _, err = Chromatogram(src, precursorMass-half, precursorMass+half,
		retentionTime-rtWindow, retentionTime+rtWindow)
	if err != nil {
		return 0, false
	}
	// TODO: take the intensity at the precursor retention time from
	// the trace instead of reporting it as unknown
	return 0, false
}

// Chromatogram sums the peak intensities inside [mzLo, mzHi] for
// every MS1 scan whose retention time lies in [rtLo, rtHi]. It
// returns parallel retention time and summed intensity slices.
func Chromatogram(src rawfile.ScanSource, mzLo, mzHi, rtLo, rtHi float64) ([]float64, []float64, error) {
	var times, intensities []float64
	for n := src.FirstScanNumber(); n <= src.LastScanNumber(); n++ {
		scan, err := src.Scan(n)
		if err != nil {
			// scan numbering may have gaps
			if errors.Is(err, rawfile.ErrInvalidScanNumber) {
				continue
			}
			return nil, nil, err
		}
		if scan.MSLevel != 1 {
			continue
		}
		if scan.RetentionTime < rtLo || scan.RetentionTime > rtHi {
			continue
		}
		mzs, ints := scan.CentroidMz, scan.CentroidIntensity
		if len(mzs) == 0 {
			mzs, ints = scan.Mz, scan.Intensity
		}
		// peaks are ordered by m/z
		sum := 0.0
		lo := sort.Search(len(mzs), func(i int) bool { return mzs[i] >= mzLo })
		for i := lo; i < len(mzs) && mzs[i] <= mzHi; i++ {
			sum += ints[i]
		}
		times = append(times, scan.RetentionTime)
		intensities = append(intensities, sum)
	}
	return times, intensities, nil
}
