package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"billscope/models"
	"billscope/pkg/statement"
)

// txFilter is the multi-dimensional filter of the dashboard read path. The
// time range accepts both YYYY-MM-DD and YYYY-MM-DD HH:MM:SS, the latter
// being the shape relayed by the forensic time-sync browser extension.
type txFilter struct {
	SubjectID      uint
	Start          *time.Time
	End            *time.Time
	endOp          string // "<" for date-only end (inclusive day), "<=" for timestamps
	MinAmount      *decimal.Decimal
	MaxAmount      *decimal.Decimal
	Direction      string // income|expense|all
	Type           string
	Method         string
	Counterparties []string // exact-match set
	Keyword        string
	SpecialOnly    bool
	Period         string // day|night|all
}

// parseTimeParam accepts a bare date or a full timestamp.
func parseTimeParam(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("unrecognized time %q", s)
}

func (f *txFilter) setStart(s string) error {
	t, _, err := parseTimeParam(s)
	if err != nil {
		return err
	}
	f.Start = &t
	return nil
}

func (f *txFilter) setEnd(s string) error {
	t, hasClock, err := parseTimeParam(s)
	if err != nil {
		return err
	}
	if hasClock {
		f.endOp = "<="
	} else {
		// make a bare end date inclusive by moving to the next day
		t = t.Add(24 * time.Hour)
		f.endOp = "<"
	}
	f.End = &t
	return nil
}

// txQuery builds the filtered selection over the subject's records.
func (s *server) txQuery(f txFilter) *gorm.DB {
	q := s.db.Model(&models.Transaction{}).Where("subject_id = ?", f.SubjectID)
	if f.Start != nil {
		q = q.Where("transaction_time >= ?", *f.Start)
	}
	if f.End != nil {
		q = q.Where("transaction_time "+f.endOp+" ?", *f.End)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	if f.Direction != "" && f.Direction != "all" {
		q = q.Where("direction = ?", f.Direction)
	}
	if f.Type != "" {
		q = q.Where("type LIKE ?", "%"+f.Type+"%")
	}
	if f.Method != "" {
		q = q.Where("method LIKE ?", "%"+f.Method+"%")
	}
	if len(f.Counterparties) > 0 {
		q = q.Where("counterparty IN ?", f.Counterparties)
	}
	if f.Keyword != "" {
		kw := "%" + strings.ToLower(f.Keyword) + "%"
		q = q.Where("(LOWER(counterparty) LIKE ? OR LOWER(remark) LIKE ? OR LOWER(type) LIKE ?)", kw, kw, kw)
	}
	if f.SpecialOnly {
		q = q.Where("special = ?", true)
	}
	switch f.Period {
	case "day":
		// 06:00 - 17:59
		q = q.Where("EXTRACT(HOUR FROM transaction_time) BETWEEN 6 AND 17")
	case "night":
		// 18:00 - 05:59
		q = q.Where("(EXTRACT(HOUR FROM transaction_time) >= 18 OR EXTRACT(HOUR FROM transaction_time) <= 5)")
	}
	return q
}

// queryTransactions returns the matching records newest first plus the
// match count and summed amount.
func (s *server) queryTransactions(f txFilter, skip, limit int) ([]models.Transaction, int64, decimal.Decimal, error) {
	var total int64
	if err := s.txQuery(f).Count(&total).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}
	var totalAmount decimal.Decimal
	if err := s.txQuery(f).Select("COALESCE(SUM(amount), 0)").Row().Scan(&totalAmount); err != nil {
		return nil, 0, decimal.Zero, err
	}
	var records []models.Transaction
	if err := s.txQuery(f).Order("transaction_time DESC").Offset(skip).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}
	return records, total, totalAmount, nil
}

// summary sums income and expense separately so the net balance is
// reconstructed without sign ambiguity.
func (s *server) summary(f txFilter) (income, expense decimal.Decimal, err error) {
	sum := func(direction statement.Direction) (decimal.Decimal, error) {
		var total decimal.Decimal
		err := s.txQuery(f).
			Where("direction = ?", string(direction)).
			Select("COALESCE(SUM(amount), 0)").
			Row().Scan(&total)
		return total, err
	}
	if income, err = sum(statement.DirectionIncome); err != nil {
		return
	}
	expense, err = sum(statement.DirectionExpense)
	return
}

// trendPoint is one time bucket of the income/expense series.
type trendPoint struct {
	Bucket  string          `json:"bucket"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// trendSeries buckets the selection by day or month.
func (s *server) trendSeries(f txFilter, bucket string) ([]trendPoint, error) {
	format := "YYYY-MM-DD"
	if bucket == "monthly" {
		format = "YYYY-MM"
	}
	rows, err := s.txQuery(f).
		Select("to_char(transaction_time, ?) AS bucket, direction, COALESCE(SUM(amount), 0) AS total", format).
		Group("1, direction").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byBucket := map[string]*trendPoint{}
	for rows.Next() {
		var (
			b, direction string
			total        decimal.Decimal
		)
		if err := rows.Scan(&b, &direction, &total); err != nil {
			return nil, err
		}
		p, ok := byBucket[b]
		if !ok {
			p = &trendPoint{Bucket: b}
			byBucket[b] = p
		}
		switch statement.Direction(direction) {
		case statement.DirectionIncome:
			p.Income = p.Income.Add(total)
		case statement.DirectionExpense:
			p.Expense = p.Expense.Add(total)
		}
	}
	out := make([]trendPoint, 0, len(byBucket))
	for _, p := range byBucket {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out, nil
}

// counterpartyTotal ranks a counterparty by its summed absolute amount.
type counterpartyTotal struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"value"`
}

// topCounterparties returns the heaviest counterparties in the selection,
// optionally excluding the anonymous sentinel.
func (s *server) topCounterparties(f txFilter, limit int, excludeAnonymous bool) ([]counterpartyTotal, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.txQuery(f)
	if excludeAnonymous {
		q = q.Where("counterparty <> ? AND counterparty <> ''", statement.AnonymousCounterparty)
	}
	rows, err := q.
		Select("counterparty, COALESCE(SUM(amount), 0) AS total").
		Group("counterparty").
		Order("total DESC").
		Limit(limit).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []counterpartyTotal
	for rows.Next() {
		var ct counterpartyTotal
		if err := rows.Scan(&ct.Name, &ct.Total); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}
