package connpager

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// IsNormalizedCountMax reports the effective page size for a requested count
// and whether the request was used unchanged. A missing count means
// DefaultPageSize, a negative one is treated as missing. Zero is a valid page
// size: it returns no edges but still computes page info.
func IsNormalizedCountMax(count *int, maxCount int) (int, bool) {
	if count == nil || *count < 0 {
		return DefaultPageSize, false
	} else if *count > maxCount {
		return maxCount, false
	}

	return *count, true
}

func NormalizeCountMax(count *int, maxCount int) int {
	ret, _ := IsNormalizedCountMax(count, maxCount)
	return ret
}

func NormalizeCount(count *int) int {
	return NormalizeCountMax(count, MaxPageSize)
}
