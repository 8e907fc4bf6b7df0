package encode

import "strings"

// Fixed2 reformats a plain decimal number with exactly two fraction digits,
// rounding half away from zero on the decimal digits themselves. It reports
// false for anything that is not an optionally signed run of digits with at
// most one '.', so identifiers with exponents or thousands separators pass
// through untouched.
func Fixed2(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	ip, fp, _ := strings.Cut(s, ".")
	if ip == "" && fp == "" || !digits(ip) || !digits(fp) {
		return "", false
	}

	fp += "000"
	buf := make([]byte, 0, len(ip)+3)
	buf = append(buf, '0')
	buf = append(buf, ip...)
	buf = append(buf, fp[:2]...)
	if fp[2] >= '5' {
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] < '9' {
				buf[i]++
				break
			}
			buf[i] = '0'
		}
	}

	n := len(buf) - 2
	whole := strings.TrimLeft(string(buf[:n]), "0")
	if whole == "" {
		whole = "0"
	}
	out := whole + "." + string(buf[n:])
	if neg && out != "0.00" {
		out = "-" + out
	}
	return out, true
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
