package statement

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field identifies a canonical column of the transaction schema.
type Field int

const (
	FieldDate Field = iota
	FieldAmount
	FieldDirection
	FieldCounterparty
	FieldType
	FieldMethod
	FieldStatus
	FieldRemark
	fieldCount
)

func (f Field) String() string {
	switch f {
	case FieldDate:
		return "date"
	case FieldAmount:
		return "amount"
	case FieldDirection:
		return "direction"
	case FieldCounterparty:
		return "counterparty"
	case FieldType:
		return "type"
	case FieldMethod:
		return "method"
	case FieldStatus:
		return "status"
	case FieldRemark:
		return "remark"
	}
	return "unknown"
}

// ColumnMap is the result of schema inference: the source column index for
// each canonical field, or -1 when the field could not be mapped.
type ColumnMap struct {
	// HeaderIndex is the row index of the detected header, -1 when the
	// table is headerless.
	HeaderIndex int
	columns     [fieldCount]int
}

// NewColumnMap returns a map with no header and every field unmapped.
func NewColumnMap() ColumnMap {
	m := ColumnMap{HeaderIndex: -1}
	for i := range m.columns {
		m.columns[i] = -1
	}
	return m
}

// Column returns the source column index for f, -1 if unmapped.
func (m ColumnMap) Column(f Field) int { return m.columns[f] }

// Set maps f to the given source column index.
func (m *ColumnMap) Set(f Field, col int) { m.columns[f] = col }

func (m ColumnMap) mapped(f Field) bool { return m.columns[f] >= 0 }

func (m ColumnMap) usesColumn(col int) bool {
	for _, c := range m.columns {
		if c == col {
			return true
		}
	}
	return false
}

// InferConfig tunes the inference heuristics. The synonym lists and shape
// thresholds are policy, not contract; callers may override any of them.
type InferConfig struct {
	// Synonyms per field, matched as substrings against header cells.
	// Longest match wins when a cell matches several fields.
	Synonyms map[Field][]string
	// ShapeThreshold is the minimum fraction of sampled values that must
	// look like a date (resp. amount, direction) for a column to be mapped
	// without a header.
	ShapeThreshold float64
	// SampleLimit caps how many data rows content-shape scoring inspects.
	SampleLimit int
	// HeaderScan caps how many leading rows are searched for a header.
	HeaderScan int
}

// DefaultInferConfig covers the header vocabularies of common CN/EN
// statement exports (WeChat, Alipay, generic bank sheets).
func DefaultInferConfig() InferConfig {
	return InferConfig{
		Synonyms: map[Field][]string{
			FieldDate:         {"交易时间", "交易日期", "记账时间", "时间", "日期", "time", "date"},
			FieldAmount:       {"交易金额", "收支金额", "金额", "amount"},
			FieldDirection:    {"收/支/其他", "收/支", "收支", "资金流向", "direction"},
			FieldCounterparty: {"交易对方", "对方名称", "商户名称", "收/付款方", "对方", "counterparty", "payee"},
			FieldType:         {"交易类型", "业务类型", "类型", "type", "category"},
			FieldMethod:       {"交易方式", "支付方式", "收/付款方式", "支付渠道", "method"},
			FieldStatus:       {"交易状态", "当前状态", "状态", "status"},
			FieldRemark:       {"备注", "摘要", "说明", "remark", "memo", "description"},
		},
		ShapeThreshold: 0.6,
		SampleLimit:    50,
		HeaderScan:     10,
	}
}

// InferSchema locates the header row (if any) and maps each canonical field
// to a source column. Header matches always win over content-shape matches;
// ties break to the leftmost column. A table where neither strategy can
// locate the date or the amount column fails as a whole.
func InferSchema(rows []RawRow, cfg InferConfig) (ColumnMap, error) {
	if cfg.Synonyms == nil {
		cfg = DefaultInferConfig()
	}
	if cfg.ShapeThreshold <= 0 {
		cfg.ShapeThreshold = 0.6
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 50
	}
	if cfg.HeaderScan <= 0 {
		cfg.HeaderScan = 10
	}

	m := NewColumnMap()
	if len(rows) == 0 {
		return m, fmt.Errorf("%w: empty table", ErrSchemaInference)
	}

	m.HeaderIndex = findHeaderRow(rows, cfg)
	if m.HeaderIndex >= 0 {
		mapFromHeader(&m, rows[m.HeaderIndex], cfg)
	}

	// Content-shape fallback fills whatever the header pass left unmapped.
	inferFromShape(&m, rows, cfg)

	if !m.mapped(FieldDate) {
		return m, fmt.Errorf("%w: cannot locate date column", ErrSchemaInference)
	}
	if !m.mapped(FieldAmount) {
		return m, fmt.Errorf("%w: cannot locate amount column", ErrSchemaInference)
	}
	return m, nil
}

// findHeaderRow returns the first leading row where at least two cells match
// field synonyms, -1 when none does.
func findHeaderRow(rows []RawRow, cfg InferConfig) int {
	limit := cfg.HeaderScan
	if limit > len(rows) {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		seen := map[Field]bool{}
		for _, cell := range rows[i] {
			if f, ok := matchHeaderField(cell.Text, cfg.Synonyms); ok {
				seen[f] = true
			}
		}
		if len(seen) >= 2 {
			return i
		}
	}
	return -1
}

// matchHeaderField matches a header cell against the synonym lists. The
// longest contained synonym wins so "收支金额" resolves to amount, not
// direction.
func matchHeaderField(text string, synonyms map[Field][]string) (Field, bool) {
	norm := normalizeHeader(text)
	if norm == "" {
		return 0, false
	}
	best := Field(-1)
	bestLen := 0
	for f := Field(0); f < fieldCount; f++ {
		for _, syn := range synonyms[f] {
			s := normalizeHeader(syn)
			if s == "" || !strings.Contains(norm, s) {
				continue
			}
			if len(s) > bestLen {
				best, bestLen = f, len(s)
			}
		}
	}
	return best, bestLen > 0
}

func mapFromHeader(m *ColumnMap, header RawRow, cfg InferConfig) {
	for ci, cell := range header {
		f, ok := matchHeaderField(cell.Text, cfg.Synonyms)
		if !ok || m.mapped(f) {
			continue
		}
		m.Set(f, ci)
	}
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(" ", "", "　", "", "（", "(", "）", ")", "：", ":")
	return replacer.Replace(s)
}

// columnShape aggregates content heuristics over sampled values.
type columnShape struct {
	values    int
	dates     int
	amounts   int
	direction int
	runes     int
}

// inferFromShape scores sampled data rows and maps still-unmapped fields:
// a column whose values mostly parse as dates is the date, mostly signed
// currency the amount, mostly flow vocabulary the direction. In headerless
// tables the longest remaining free-form column becomes the remark.
func inferFromShape(m *ColumnMap, rows []RawRow, cfg InferConfig) {
	start := m.HeaderIndex + 1
	width := 0
	shapes := []columnShape{}
	sampled := 0
	for i := start; i < len(rows) && sampled < cfg.SampleLimit; i++ {
		row := rows[i]
		if rowEmpty(row) {
			continue
		}
		sampled++
		for ci, cell := range row {
			for ci >= width {
				shapes = append(shapes, columnShape{})
				width++
			}
			v := cell.Text
			if v == "" {
				continue
			}
			sh := &shapes[ci]
			sh.values++
			sh.runes += utf8.RuneCountInString(v)
			if _, ok := parseWhen(v); ok {
				sh.dates++
			} else if _, _, ok := parseAmountText(v); ok {
				sh.amounts++
			}
			if _, ok := classifyDirection(v); ok {
				sh.direction++
			}
		}
	}
	if sampled == 0 {
		return
	}

	frac := func(n, of int) float64 {
		if of == 0 {
			return 0
		}
		return float64(n) / float64(of)
	}
	pick := func(score func(columnShape) float64) int {
		best, bestScore := -1, cfg.ShapeThreshold
		for ci := 0; ci < width; ci++ {
			if m.usesColumn(ci) {
				continue
			}
			if s := score(shapes[ci]); s > bestScore {
				best, bestScore = ci, s
			}
		}
		return best
	}

	if !m.mapped(FieldDate) {
		if ci := pick(func(s columnShape) float64 { return frac(s.dates, s.values) }); ci >= 0 {
			m.Set(FieldDate, ci)
		}
	}
	if !m.mapped(FieldAmount) {
		if ci := pick(func(s columnShape) float64 { return frac(s.amounts, s.values) }); ci >= 0 {
			m.Set(FieldAmount, ci)
		}
	}
	if !m.mapped(FieldDirection) {
		if ci := pick(func(s columnShape) float64 { return frac(s.direction, s.values) }); ci >= 0 {
			m.Set(FieldDirection, ci)
		}
	}
	if m.HeaderIndex < 0 && !m.mapped(FieldRemark) {
		// free-form text: longest average value among leftover columns
		best, bestAvg := -1, 6.0
		for ci := 0; ci < width; ci++ {
			if m.usesColumn(ci) || shapes[ci].values == 0 {
				continue
			}
			sh := shapes[ci]
			if frac(sh.dates, sh.values) > 0.3 || frac(sh.amounts, sh.values) > 0.3 {
				continue
			}
			if avg := float64(sh.runes) / float64(sh.values); avg > bestAvg {
				best, bestAvg = ci, avg
			}
		}
		if best >= 0 {
			m.Set(FieldRemark, best)
		}
	}
}
