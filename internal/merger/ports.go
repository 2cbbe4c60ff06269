package merger

import (
	"cmp"
	"slices"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// MergePortRanges collapses overlapping and adjacent port ranges into the
// minimal ordered list of single ports and port ranges.
func MergePortRanges(ranges []domain.PortRange) []domain.Port {
	sorted := make([]domain.PortRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == 0 || r.End < r.Start {
			continue
		}
		sorted = append(sorted, r)
	}
	if len(sorted) == 0 {
		return nil
	}
	slices.SortFunc(sorted, func(a, b domain.PortRange) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})

	merged := []domain.PortRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if int(r.Start) <= int(last.End)+1 {
			last.End = max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}

	out := make([]domain.Port, len(merged))
	for i, r := range merged {
		if r.Start == r.End {
			out[i] = domain.SinglePort(r.Start)
		} else {
			out[i] = domain.PortSpan(r.Start, r.End)
		}
	}
	return out
}
