package server

// globMatch reports whether s matches pattern. It supports *, ?, character
// classes such as [abc], [^abc] and [a-z], and backslash escapes. Matching
// is byte-wise and, unlike path.Match, '/' is an ordinary byte.
func globMatch(pattern, s string, nocase bool) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern[1:], s[i:], nocase) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
		case '[':
			if len(s) == 0 {
				return false
			}
			var matched bool
			pattern, matched = matchClass(pattern[1:], s[0], nocase)
			if !matched {
				return false
			}
			s = s[1:]
			continue
		case '\\':
			if len(pattern) >= 2 {
				pattern = pattern[1:]
			}
			fallthrough
		default:
			if len(s) == 0 || !equalByte(pattern[0], s[0], nocase) {
				return false
			}
			s = s[1:]
		}
		pattern = pattern[1:]
	}
	return len(s) == 0
}

// matchClass matches c against the class starting right after '['. It
// returns the pattern following the closing ']'.
func matchClass(pattern string, c byte, nocase bool) (string, bool) {
	not := len(pattern) > 0 && pattern[0] == '^'
	if not {
		pattern = pattern[1:]
	}
	matched := false
	for len(pattern) > 0 && pattern[0] != ']' {
		switch {
		case pattern[0] == '\\' && len(pattern) >= 2:
			pattern = pattern[1:]
			if equalByte(pattern[0], c, nocase) {
				matched = true
			}
		case len(pattern) >= 3 && pattern[1] == '-':
			lo, hi := pattern[0], pattern[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			x := c
			if nocase {
				lo, hi, x = toLower(lo), toLower(hi), toLower(x)
			}
			if x >= lo && x <= hi {
				matched = true
			}
			pattern = pattern[2:]
		default:
			if equalByte(pattern[0], c, nocase) {
				matched = true
			}
		}
		pattern = pattern[1:]
	}
	if len(pattern) > 0 {
		pattern = pattern[1:]
	}
	if not {
		matched = !matched
	}
	return pattern, matched
}

func equalByte(a, b byte, nocase bool) bool {
	if nocase {
		return toLower(a) == toLower(b)
	}
	return a == b
}

func toLower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
