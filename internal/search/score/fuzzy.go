package score

import (
	"math"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var levenshtein = metrics.NewLevenshtein()

// PartialRatio returns the best similarity, in [0, 100], between the shorter
// string and any equally long window of the longer one. Identical strings and
// exact substrings score 100; an empty string scores 0.
func PartialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		sim := strutil.Similarity(s, string(long[i:i+len(short)]), levenshtein)
		if sim > best {
			best = sim
			if best >= 1 {
				break
			}
		}
	}
	return int(math.Round(best * 100))
}
