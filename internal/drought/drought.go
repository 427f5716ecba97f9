// Package drought holds transformations applied to drought index series.
package drought

// ApplyDurationThreshold removes droughts shorter than minLen months from a
// duration series, in place, and returns it.
//
// In a duration series each drought month holds the drought's length so far
// and months outside a drought hold 0, so the last month of a drought holds
// its full length. The series is scanned backwards from that last month.
// A minLen of 1 or less leaves the series unchanged. Negative values are
// treated as 0.
//
// The scan includes month 0, so a short drought in the first month is removed
// too. The R apply_duration_thresh routine stops before month 0 and keeps it.
func ApplyDurationThreshold(series []int16, minLen int) []int16 {
	if minLen <= 1 {
		return series
	}
	t := len(series) - 1
	for t >= 0 {
		n := int(series[t])
		if n < 0 {
			n = 0
		}
		if n > t+1 {
			// the drought began before the series did
			n = t + 1
		}
		if n > 0 && n < minLen {
			for i := 0; i < n; i++ {
				series[t-i] = 0
			}
		}
		// the month before a drought is never in drought
		t -= n + 1
	}
	return series
}

// ApplyDurationThresholdRows applies ApplyDurationThreshold to each row of a
// row-major (rows x cols) matrix.
func ApplyDurationThresholdRows(values []int16, cols, minLen int) {
	if cols <= 0 {
		return
	}
	for off := 0; off+cols <= len(values); off += cols {
		ApplyDurationThreshold(values[off:off+cols], minLen)
	}
}
