package tools

import (
	"strings"
	"time"
)

const idTimestampLayout = "20060102_150405"

// recordID synthesizes a human-readable record id:
// "<prefix>_<timestamp>_<tenant fragment>".
func recordID(prefix string, now time.Time, tenantID string) string {
	return prefix + "_" + now.Format(idTimestampLayout) + "_" + tenantFragment(tenantID, 8)
}

// ticketID follows the dispatcher-facing format
// "TKT-YYYYMMDD-<TENANT>-HHMMSS".
func ticketID(now time.Time, tenantID string) string {
	return "TKT-" + now.Format("20060102") + "-" +
		strings.ToUpper(tenantFragment(tenantID, 4)) + "-" + now.Format("150405")
}

// emergencyID follows "EMG-YYYYMMDD-HHMMSS-<TENANT>".
func emergencyID(now time.Time, tenantID string) string {
	return "EMG-" + now.Format("20060102") + "-" + now.Format("150405") + "-" +
		strings.ToUpper(tenantFragment(tenantID, 4))
}

func tenantFragment(tenantID string, n int) string {
	if len(tenantID) > n {
		return tenantID[:n]
	}
	return tenantID
}
