package observability

import "unicode"

// cleanField strips control characters and caps the rune count.
func cleanField(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	out := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if len(out) == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// SanitizeRoute makes a route pattern safe to log.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return cleanField(route, 180)
}

func SanitizeMethod(method string) string {
	return cleanField(method, 10)
}

// SanitizeCaller trims a service principal before it is logged.
func SanitizeCaller(caller string) string {
	return cleanField(caller, 128)
}
