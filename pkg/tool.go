package pkg

import "github.com/samber/lo"

// Unique drop empty and repeated values, keep first seen order
func Unique(slice []string) []string {
	return lo.Uniq(lo.Compact(slice))
}
