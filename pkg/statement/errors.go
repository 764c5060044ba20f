package statement

import "errors"

// File-level errors abort the whole import and nothing from the file is
// persisted. ErrRowRejected only ever applies to a single row; the rest of
// the file keeps processing.
var (
	ErrUnsupportedFormat = errors.New("unsupported statement format")
	ErrExtractionEmpty   = errors.New("no extractable rows")
	ErrSchemaInference   = errors.New("schema inference failed")
	ErrRowRejected       = errors.New("row rejected")
)
