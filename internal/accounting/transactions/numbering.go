package transactions

import (
	"fmt"
	"strings"
	"time"
)

// Period is the numbering bucket for t: its UTC calendar month as yyyymm.
func Period(t time.Time) string {
	return t.UTC().Format("200601")
}

// FormatNumber renders TXN-<PFX>-<yyyymm>-<seq>, where PFX is the first three
// characters of the institution id in upper case.
func FormatNumber(institutionID, period string, seq int64) string {
	prefix := institutionID
	if r := []rune(prefix); len(r) > 3 {
		prefix = string(r[:3])
	}
	return fmt.Sprintf("TXN-%s-%s-%06d", strings.ToUpper(prefix), period, seq)
}
