package store

// MatchGlob reports whether key matches pattern, where '*' matches any run of
// characters and '?' matches exactly one.
func MatchGlob(pattern string, key string) bool {
	p, k := 0, 0
	starP, starK := -1, 0

	for k < len(key) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == key[k]):
			p++
			k++
		case p < len(pattern) && pattern[p] == '*':
			starP = p
			starK = k
			p++
		case starP != -1:
			p = starP + 1
			starK++
			k = starK
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}

	return p == len(pattern)
}

// globPrefix returns the literal part of pattern before the first wildcard.
func globPrefix(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' || pattern[i] == '?' {
			return pattern[:i]
		}
	}
	return pattern
}
