package filters

import (
	"regexp"
	"strconv"
	"strings"
)

// A display token is a "#<digits>" reference in a reply subject, the form
// the notification sender stamps on outbound mail.
var displayTokenRegexp = regexp.MustCompile(`(?:^|[\s\[(])#(\d{1,19})\b`)

// Ticket permalinks in message bodies also identify the thread.
var displayURLRegexp = regexp.MustCompile(`/tickets/display/(\d{1,19})\b`)

func findDisplayToken(input string) (int64, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, false
	}
	matches := displayTokenRegexp.FindStringSubmatch(input)
	if len(matches) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func findDisplayURL(input string) (int64, bool) {
	matches := displayURLRegexp.FindStringSubmatch(input)
	if len(matches) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
