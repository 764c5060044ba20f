package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SpecialRule flags notable amounts: an explicit denylist of magnitudes and
// a round-number rule marking exact multiples of a base unit.
type SpecialRule struct {
	Amounts   []decimal.Decimal
	RoundBase decimal.Decimal // zero disables the rule
}

// Match reports whether the magnitude is special under either rule.
func (r SpecialRule) Match(magnitude decimal.Decimal) bool {
	for _, a := range r.Amounts {
		if magnitude.Equal(a) {
			return true
		}
	}
	if r.RoundBase.IsPositive() && magnitude.IsPositive() {
		return magnitude.Mod(r.RoundBase).IsZero()
	}
	return false
}

// NormalizeConfig tunes the row normalizer.
type NormalizeConfig struct {
	Special SpecialRule
}

// DefaultNormalizeConfig flags round multiples of 1000.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		Special: SpecialRule{RoundBase: decimal.NewFromInt(1000)},
	}
}

// Recognized timestamp layouts, most specific first. The month/day tokens
// are unpadded ("1", "2") because those accept both one- and two-digit
// values, while the zero-padded tokens reject 2023/6/1 style exports.
var dateLayouts = []string{
	"2006-1-2 15:04:05",
	"2006/1/2 15:04:05",
	"2006-1-2 15:04",
	"2006/1/2 15:04",
	"2006年1月2日 15:04:05",
	"2006年1月2日 15:04",
	"2006-1-2",
	"2006/1/2",
	"2006年1月2日",
}

// parseWhen normalizes a locale-specific date string to a timezone-naive
// timestamp.
func parseWhen(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var amountCleaner = strings.NewReplacer(
	"¥", "", "￥", "", "$", "", "€", "",
	",", "", "，", "", " ", "", "　", "", "元", "",
)

// parseAmountText coerces a currency string to a decimal magnitude.
// sign is -1 or +1 when the source carried an explicit sign, 0 otherwise.
func parseAmountText(s string) (decimal.Decimal, int, bool) {
	s = amountCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, 0, false
	}
	sign := 0
	// accounting style (128.50) means negative
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		sign = -1
		s = s[1 : len(s)-1]
	}
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		sign = 1
		s = s[1:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, 0, false
	}
	if d.IsNegative() {
		sign = -1
		d = d.Neg()
	}
	return d, sign, true
}

// direction vocabularies for explicit flow columns, matched exactly
var (
	incomeWords  = []string{"收入", "转入", "退款", "收款", "income", "credit", "in"}
	expenseWords = []string{"支出", "转出", "付款", "消费", "提现", "expense", "debit", "out"}
	neutralWords = []string{"其他", "中性", "不计收支", "neutral", "other"}
)

// keyword vocabularies for substring scans over free type text. The short
// English tokens "in"/"out" are deliberately absent: as substrings they
// misfire on ordinary words like "dining" or "checkout".
var (
	incomeTypeWords  = []string{"收入", "转入", "退款", "收款", "income", "credit", "refund"}
	expenseTypeWords = []string{"支出", "转出", "付款", "消费", "提现", "expense", "debit"}
)

// classifyDirection resolves an explicit income/expense column value.
func classifyDirection(s string) (Direction, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return DirectionNeutral, false
	}
	for _, w := range neutralWords {
		if v == w {
			return DirectionNeutral, true
		}
	}
	for _, w := range incomeWords {
		if v == w {
			return DirectionIncome, true
		}
	}
	for _, w := range expenseWords {
		if v == w {
			return DirectionExpense, true
		}
	}
	// single-character CN shorthand used by some bank exports
	switch v {
	case "收":
		return DirectionIncome, true
	case "支", "付":
		return DirectionExpense, true
	}
	return DirectionNeutral, false
}

// directionFromType scans free transaction-type text for flow keywords.
func directionFromType(s string) (Direction, bool) {
	v := strings.ToLower(s)
	for _, w := range incomeTypeWords {
		if strings.Contains(v, w) {
			return DirectionIncome, true
		}
	}
	for _, w := range expenseTypeWords {
		if strings.Contains(v, w) {
			return DirectionExpense, true
		}
	}
	return DirectionNeutral, false
}

// NormalizeRow converts one raw row into a canonical record using the
// inferred column mapping. Failures are per-row: the caller counts the
// reject and keeps going.
func NormalizeRow(row RawRow, cm ColumnMap, cfg NormalizeConfig) (Record, error) {
	rawDate := cellAt(row, cm.Column(FieldDate))
	when, ok := parseWhen(rawDate)
	if !ok {
		return Record{}, fmt.Errorf("%w: unparseable date %q", ErrRowRejected, rawDate)
	}

	rawAmount := cellAt(row, cm.Column(FieldAmount))
	magnitude, sign, ok := parseAmountText(rawAmount)
	if !ok {
		return Record{}, fmt.Errorf("%w: unparseable amount %q", ErrRowRejected, rawAmount)
	}

	txType := cellAt(row, cm.Column(FieldType))

	// direction: explicit sign > flow column > keywords in type text
	direction := DirectionNeutral
	switch {
	case sign < 0:
		direction = DirectionExpense
	case sign > 0:
		direction = DirectionIncome
	default:
		if d, ok := classifyDirection(cellAt(row, cm.Column(FieldDirection))); ok {
			direction = d
		} else if d, ok := directionFromType(txType); ok {
			direction = d
		}
	}

	counterparty := cellAt(row, cm.Column(FieldCounterparty))
	if counterparty == "" {
		counterparty = AnonymousCounterparty
	}

	method := cellAt(row, cm.Column(FieldMethod))
	remark := cellAt(row, cm.Column(FieldRemark))

	rec := Record{
		Time:         when,
		Counterparty: counterparty,
		Direction:    direction,
		Amount:       magnitude,
		Type:         txType,
		Method:       method,
		Status:       cellAt(row, cm.Column(FieldStatus)),
		Remark:       remark,
		Special:      cfg.Special.Match(magnitude),
	}
	rec.Fingerprint = Fingerprint(when, counterparty, magnitude, method, remark)
	return rec, nil
}

// cellAt returns the whitespace-normalized cell text, "" when unmapped or
// out of range, so fingerprints never vary on stray spacing.
func cellAt(row RawRow, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return cleanCell(row[col].Text)
}
