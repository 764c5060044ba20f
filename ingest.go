package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"billscope/models"
	"billscope/pkg/statement"
)

// ErrIngestionFailed wraps a storage-level failure: the whole file batch was
// rolled back. Distinct from per-row rejects and duplicates, which are
// normal reported outcomes.
var ErrIngestionFailed = errors.New("ingestion failed")

// ingestResult is the per-file accounting returned to the uploader.
type ingestResult struct {
	FileID        uint   `json:"file_id,omitempty"`
	FileName      string `json:"filename"`
	ParsedRows    int    `json:"parsed_rows"`
	RejectedRows  int    `json:"rejected_rows"`
	DuplicateRows int    `json:"duplicate_rows"`
	InsertedRows  int    `json:"inserted_rows"`
}

// detectFormat maps the uploaded filename to a declared format tag. The
// extractor still verifies the byte signature against it.
func detectFormat(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return statement.FormatPDF, nil
	case ".xlsx":
		return statement.FormatXLSX, nil
	case ".xls":
		return statement.FormatXLS, nil
	}
	return "", fmt.Errorf("%w: unrecognized extension on %q", statement.ErrUnsupportedFormat, filename)
}

// lockSubject serializes the check-and-insert step per subject. The
// (subject_id, fingerprint) unique index remains the authoritative guard;
// this lock only keeps concurrent imports of the same subject from racing
// the application-level duplicate check.
func (s *server) lockSubject(subjectID uint) *sync.Mutex {
	mu, _ := s.subjectLocks.LoadOrStore(subjectID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ingestStatement runs the full pipeline for one uploaded file: parse,
// dedup against the subject's persisted fingerprints, persist the file and
// its new rows in a single transaction.
func (s *server) ingestStatement(ctx context.Context, subjectID uint, filename string, data []byte) (ingestResult, error) {
	res := ingestResult{FileName: filename}

	format, err := detectFormat(filename)
	if err != nil {
		return res, err
	}
	records, stats, err := statement.ParseContext(ctx, data, format, s.cfg)
	if err != nil {
		return res, err
	}
	res.ParsedRows = stats.TotalRows
	res.RejectedRows = stats.RejectedRows

	mu := s.lockSubject(subjectID)
	mu.Lock()
	defer mu.Unlock()

	storePath, err := archiveUpload(subjectID, filename, data)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file := models.SourceFile{
			SubjectID: subjectID,
			FileName:  filename,
			Format:    format,
			SizeBytes: int64(len(data)),
			StorePath: storePath,
		}
		if err := tx.Create(&file).Error; err != nil {
			return err
		}
		res.FileID = file.ID
		for _, rec := range records {
			// dedup scope is the whole subject, not just this file
			var existing models.Transaction
			err := tx.Where("subject_id = ? AND fingerprint = ?", subjectID, rec.Fingerprint).
				First(&existing).Error
			if err == nil {
				res.DuplicateRows++
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			row := models.Transaction{
				SubjectID:       subjectID,
				SourceFileID:    file.ID,
				TransactionTime: rec.Time,
				Counterparty:    rec.Counterparty,
				Direction:       string(rec.Direction),
				Amount:          rec.Amount,
				Type:            rec.Type,
				Method:          rec.Method,
				Status:          rec.Status,
				Remark:          rec.Remark,
				Fingerprint:     rec.Fingerprint,
				Special:         rec.Special,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			res.InsertedRows++
		}
		return nil
	})
	if err != nil {
		// the batch rolled back, drop the partial accounting and the archive
		res.FileID = 0
		res.DuplicateRows = 0
		res.InsertedRows = 0
		_ = os.Remove(storePath)
		return res, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
	}

	log.Info().
		Uint64("subject", uint64(subjectID)).
		Str("file", filename).
		Int("parsed", res.ParsedRows).
		Int("inserted", res.InsertedRows).
		Int("duplicates", res.DuplicateRows).
		Int("rejected", res.RejectedRows).
		Msg("statement ingested")
	return res, nil
}

// archiveUpload keeps the raw bytes on disk under a collision-free name so
// the original export can be re-examined later.
func archiveUpload(subjectID uint, filename string, data []byte) (string, error) {
	dir := filepath.Join(uploadBaseDir(), fmt.Sprintf("subject_%d", subjectID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+"_"+filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// specialRuleFromEnv reads the special-amount heuristics:
// SPECIAL_AMOUNTS is a comma-separated denylist of exact magnitudes,
// SPECIAL_ROUND_BASE flags multiples of the base unit (default 1000, 0 disables).
func specialRuleFromEnv() statement.SpecialRule {
	rule := statement.SpecialRule{RoundBase: decimal.NewFromInt(1000)}
	if v := os.Getenv("SPECIAL_AMOUNTS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, err := decimal.NewFromString(part)
			if err != nil {
				log.Warn().Str("value", part).Msg("ignoring unparseable SPECIAL_AMOUNTS entry")
				continue
			}
			rule.Amounts = append(rule.Amounts, d)
		}
	}
	if v := os.Getenv("SPECIAL_ROUND_BASE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("ignoring unparseable SPECIAL_ROUND_BASE")
		} else {
			rule.RoundBase = d
		}
	}
	return rule
}
