package manualctl

import (
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/urlindex"
)

// Union merges a and b, preferring a's record on a shared footprint
// (both are already footprint-ordered, a merge-walk like merge.Run's
// union/dedup pass rather than a full re-sort).
func Union(a, b *Set) *Set {
	out := make([]*urlindex.Record, 0, len(a.records)+len(b.records))
	i, j := 0, 0
	for i < len(a.records) && j < len(b.records) {
		switch c := footprint.Cmp(a.records[i].FP, b.records[j].FP); {
		case c < 0:
			out = append(out, a.records[i])
			i++
		case c > 0:
			out = append(out, b.records[j])
			j++
		default:
			out = append(out, a.records[i])
			i++
			j++
		}
	}
	out = append(out, a.records[i:]...)
	out = append(out, b.records[j:]...)
	return &Set{records: out}
}

// Intersect returns records present in both a and b, by footprint.
func Intersect(a, b *Set) *Set {
	out := make([]*urlindex.Record, 0, minInt(len(a.records), len(b.records)))
	i, j := 0, 0
	for i < len(a.records) && j < len(b.records) {
		switch c := footprint.Cmp(a.records[i].FP, b.records[j].FP); {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			out = append(out, a.records[i])
			i++
			j++
		}
	}
	return &Set{records: out}
}

// Subtract returns a's records whose footprint is absent from b.
func Subtract(a, b *Set) *Set {
	out := make([]*urlindex.Record, 0, len(a.records))
	i, j := 0, 0
	for i < len(a.records) {
		if j < len(b.records) {
			if c := footprint.Cmp(a.records[i].FP, b.records[j].FP); c > 0 {
				j++
				continue
			} else if c == 0 {
				i++
				j++
				continue
			}
		}
		out = append(out, a.records[i])
		i++
	}
	return &Set{records: out}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
