package statement

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Fingerprint derives the dedup key for a normalized record. It is a pure
// function of the normalized field values, so re-imports of the same logical
// transaction collide regardless of source column order or whitespace.
func Fingerprint(when time.Time, counterparty string, amount decimal.Decimal, method, remark string) string {
	h := sha256.New()
	io.WriteString(h, when.Format("2006-01-02 15:04:05"))
	io.WriteString(h, "|")
	io.WriteString(h, counterparty)
	io.WriteString(h, "|")
	io.WriteString(h, amount.StringFixed(2))
	io.WriteString(h, "|")
	io.WriteString(h, method)
	io.WriteString(h, "|")
	io.WriteString(h, remark)
	return hex.EncodeToString(h.Sum(nil))
}
