// Package statement turns exported transaction statements (PDF or
// spreadsheet) into canonical transaction records. The pipeline is
// extract -> infer schema -> normalize rows, and every stage is a pure
// function of its inputs so the heuristics stay unit-testable without
// storage.
package statement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Cell is one extracted table cell. X carries the horizontal position for
// PDF sources (column index for spreadsheets) so column inference can work
// from layout instead of delimiters.
type Cell struct {
	Text string
	X    float64
}

// RawRow is one reconstructed line of a statement table.
type RawRow []Cell

// Direction classifies the money flow of a record.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
	DirectionNeutral Direction = "neutral"
)

// AnonymousCounterparty is stored when the source data has no identifiable
// party. Distinct from the empty string so aggregations can exclude it.
const AnonymousCounterparty = "(anonymous)"

// Record is a canonical transaction produced by the normalizer. Amount is
// always a non-negative magnitude; Direction carries the sign.
type Record struct {
	Time         time.Time
	Counterparty string
	Direction    Direction
	Amount       decimal.Decimal
	Type         string
	Method       string
	Status       string
	Remark       string
	Special      bool
	Fingerprint  string
}

// Config bundles the tunable heuristics of the pipeline.
type Config struct {
	Infer     InferConfig
	Normalize NormalizeConfig
}

// DefaultConfig returns the documented default heuristics.
func DefaultConfig() Config {
	return Config{
		Infer:     DefaultInferConfig(),
		Normalize: DefaultNormalizeConfig(),
	}
}

// Stats reports per-file row accounting. RejectedRows counts data rows that
// could not be normalized (bad date, bad amount, summary noise); they are
// skipped, never silently dropped.
type Stats struct {
	TotalRows    int
	RejectedRows int
}

// Parse runs the full pipeline over one document.
func Parse(data []byte, format string, cfg Config) ([]Record, Stats, error) {
	return ParseContext(context.Background(), data, format, cfg)
}

// ParseContext is Parse with caller-controlled cancellation; extraction of a
// large PDF aborts between pages when ctx is done.
func ParseContext(ctx context.Context, data []byte, format string, cfg Config) ([]Record, Stats, error) {
	rows, err := ExtractContext(ctx, data, format)
	if err != nil {
		return nil, Stats{}, err
	}
	cm, err := InferSchema(rows, cfg.Infer)
	if err != nil {
		return nil, Stats{}, err
	}
	var (
		records []Record
		stats   Stats
	)
	for i := cm.HeaderIndex + 1; i < len(rows); i++ {
		if rowEmpty(rows[i]) {
			continue
		}
		stats.TotalRows++
		rec, err := NormalizeRow(rows[i], cm, cfg.Normalize)
		if err != nil {
			stats.RejectedRows++
			continue
		}
		records = append(records, rec)
	}
	return records, stats, nil
}

func rowEmpty(row RawRow) bool {
	for _, c := range row {
		if c.Text != "" {
			return false
		}
	}
	return true
}
