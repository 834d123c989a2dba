package checker

import (
	"strings"

	"github.com/proxy-scraper-checker/internal/types"
)

// proxyHeaders are the headers a non-elite proxy is known to inject when
// relaying a request.
var proxyHeaders = []string{
	"Via",
	"X-Forwarded-For",
	"Forwarded",
	"X-Real-Ip",
	"From",
	"X-Proxy-Id",
}

// ClassifyAnonymity grades a working HTTP proxy from the judge's echo. It
// is a pure function of the probe already made; no extra round-trip.
//
//   - the real client IP leaked through (origin or any header) -> transparent
//   - real IP hidden but a proxy-identifying header arrived    -> anonymous
//   - neither                                                  -> elite
//
// realIP must be the checking process's own outbound address; when it is
// unknown the classification cannot be made and the caller should leave the
// level unset.
func ClassifyAnonymity(echo *types.Echo, realIP string) types.AnonymityLevel {
	if containsIP(echo.Origin, realIP) {
		return types.AnonymityTransparent
	}
	for _, value := range echo.Headers {
		if containsIP(value, realIP) {
			return types.AnonymityTransparent
		}
	}

	for _, name := range proxyHeaders {
		if headerPresent(echo.Headers, name) {
			return types.AnonymityAnonymous
		}
	}

	return types.AnonymityElite
}

// containsIP reports whether value contains ip as a whole address. A match
// glued to more address characters does not count: "1.2.3.4" must not be
// found inside "51.2.3.45".
func containsIP(value, ip string) bool {
	if ip == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(value[from:], ip)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(ip)
		if !addrByte(value, start-1) && !addrByte(value, end) {
			return true
		}
		from = start + 1
	}
}

func addrByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	b := s[i]
	return (b >= '0' && b <= '9') || b == '.'
}

func headerPresent(headers map[string]string, name string) bool {
	for key, value := range headers {
		if strings.EqualFold(key, name) && value != "" {
			return true
		}
	}
	return false
}
