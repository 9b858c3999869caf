package gate

import (
	"fmt"
	"math"
	"sort"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/timeseries"
)

// snapshotDeviation compares the current snapshot against the previous
// gate evaluation's snapshot and reports the first kind-sensitive field
// whose change exceeds its tolerance. Fields are checked in sorted name
// order so identical inputs always yield the identical reason. Fields
// absent from either snapshot are skipped; a missing previous snapshot
// means no deviation.
func snapshotDeviation(policy registry.Policy, prev, cur timeseries.MetricSnapshot) (string, bool) {
	if prev.Fields == nil {
		return "", false
	}
	fields := make([]string, 0, len(policy.Tolerances))
	for field := range policy.Tolerances {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		tolerance := policy.Tolerances[field]
		before, haveBefore := prev.Get(field)
		after, haveAfter := cur.Get(field)
		if !haveBefore || !haveAfter {
			continue
		}
		if delta := math.Abs(after - before); delta > tolerance {
			return fmt.Sprintf("significant deviation: %s changed %.1f (tolerance %.1f)", field, delta, tolerance), true
		}
	}
	return "", false
}
