package utils

import "regexp"

var tokenQueryRegex = regexp.MustCompile(`((?:access_token|refresh_token|token)=)[^&\s]+`)

// MaskURL hides token-bearing query parameters so a URL is safe to log.
func MaskURL(u string) string {
	return tokenQueryRegex.ReplaceAllString(u, "${1}***")
}

// MaskToken reduces a secret to a fixed placeholder for log output. It never
// reveals any part of the value; length alone can narrow a search space.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "***"
}
