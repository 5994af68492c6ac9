package submission

import (
	"regexp"
	"strconv"
)

var consumedRe = regexp.MustCompile(`Program (\S+) consumed (\d+) of (\d+) compute units`)

// Usage is the resource consumption an operation reported in its logs.
type Usage struct {
	Program  string
	Consumed uint64
	Budget   uint64
}

// ParseUsage finds the compute-unit report of the outermost program
// invocation, which is the last one logged. ok is false if none is found.
func ParseUsage(logs []string) (usage Usage, ok bool) {
	for i := len(logs) - 1; i >= 0; i-- {
		m := consumedRe.FindStringSubmatch(logs[i])
		if m == nil {
			continue
		}
		consumed, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		budget, err := strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			continue
		}
		return Usage{Program: m[1], Consumed: consumed, Budget: budget}, true
	}
	return Usage{}, false
}
