package failure

import "strings"

// Category is the error taxonomy for transport failures.
type Category string

const (
	CategoryNetwork   Category = "NETWORK"
	CategoryAuth      Category = "AUTH"
	CategoryRateLimit Category = "RATE_LIMIT"
	CategoryServer    Category = "SERVER"
	CategoryClient    Category = "CLIENT"
	CategoryTimeout   Category = "TIMEOUT"
	CategoryCancelled Category = "CANCELLED"
	CategoryUnknown   Category = "UNKNOWN"
)

// Classify maps a failure to its category and retriability. Status-code
// rules run before textual rules; text only decides when no status code was
// supplied or none of the code ranges matched. statusCode of 0 means absent.
func Classify(message string, statusCode int) (Category, bool) {
	switch {
	case statusCode == 401 || statusCode == 403:
		return CategoryAuth, false
	case statusCode == 429:
		return CategoryRateLimit, true
	case statusCode >= 500:
		return CategoryServer, true
	case statusCode >= 400:
		return CategoryClient, false
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "aborted") || strings.Contains(lower, "cancelled"):
		return CategoryCancelled, false
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return CategoryTimeout, true
	case strings.Contains(lower, "network") || strings.Contains(lower, "fetch") || strings.Contains(lower, "connection"):
		return CategoryNetwork, true
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		return CategoryAuth, false
	}
	return CategoryUnknown, false
}
