// Package ports parses user supplied port specifications and maps port
// numbers to well known service names.
package ports

import (
	"slices"
	"strconv"
	"strings"
)

// defaultPorts is probed when the user does not ask for anything
// specific.
var defaultPorts = []int{21, 22, 23, 25, 53, 80, 110, 139, 143, 443, 445, 3306, 3389, 8080}

// Default returns a copy of the builtin well known port list.
func Default() []int {
	return slices.Clone(defaultPorts)
}

// Parse turns a specification like "22,80,1000-1010" into a sorted,
// deduplicated port list. An empty spec yields Default(). Reversed
// ranges are normalized ("80-22" equals "22-80"), range bounds are
// clamped to 1..65535 and tokens which do not parse or fall out of
// range are dropped. A nil result means no valid ports were found,
// which callers must treat as invalid input, not as an empty scan.
func Parse(spec string) []int {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Default()
	}

	seen := make(map[int]struct{})
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, errA := strconv.Atoi(strings.TrimSpace(lo))
			b, errB := strconv.Atoi(strings.TrimSpace(hi))
			if errA != nil || errB != nil {
				continue
			}
			if a > b {
				a, b = b, a
			}
			for i := max(1, a); i <= min(65535, b); i++ {
				seen[i] = struct{}{}
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > 65535 {
			continue
		}
		seen[p] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}
	ret := make([]int, 0, len(seen))
	for p := range seen {
		ret = append(ret, p)
	}
	slices.Sort(ret)
	return ret
}
