package broker

// matchGlob reports whether name matches pattern, where '*' matches any run of
// characters and '?' matches exactly one. This is the subset of Redis
// PSUBSCRIBE syntax the relay relies on.
func matchGlob(pattern, name string) bool {
	p, n := 0, 0
	star, mark := -1, 0

	for n < len(name) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = n
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == name[n]):
			p++
			n++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
