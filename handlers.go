package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"billscope/models"
	"billscope/pkg/statement"
)

func (s *server) setupRoutes(r *gin.Engine) {
	r.POST("/subjects", s.createSubjectHandler)
	r.GET("/subjects", s.listSubjectsHandler)
	r.POST("/subjects/verify", s.verifySubjectHandler)

	authGroup := r.Group("")
	authGroup.Use(subjectAuthMiddleware())
	authGroup.DELETE("/subjects/:id", s.deleteSubjectHandler)
	authGroup.GET("/subjects/:id/files", s.listFilesHandler)
	authGroup.DELETE("/subjects/:id/files/:fileID", s.deleteFileHandler)
	authGroup.POST("/upload", s.uploadHandler)
	authGroup.GET("/transactions", s.transactionsHandler)
	authGroup.GET("/stats/summary", s.summaryHandler)
	authGroup.GET("/stats/by-date", s.statsByDateHandler)
	authGroup.GET("/stats/by-counterparty", s.statsByCounterpartyHandler)
	authGroup.GET("/stats/ai-analysis", s.aiAnalysisHandler)
}

func (s *server) createSubjectHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subject, err := createSubject(s.db, req.Name, req.Password)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": subject.ID, "name": subject.Name, "created_at": subject.CreatedAt})
}

// listSubjectsHandler returns subjects (optionally name-filtered) with
// per-subject file counts and the time of the latest known transaction.
func (s *server) listSubjectsHandler(c *gin.Context) {
	q := s.db.Model(&models.Subject{})
	if search := c.Query("search"); search != "" {
		q = q.Where("name LIKE ?", "%"+search+"%")
	}
	var subjects []models.Subject
	if err := q.Order("id").Find(&subjects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(subjects))
	for _, sub := range subjects {
		var fileCount int64
		s.db.Model(&models.SourceFile{}).Where("subject_id = ?", sub.ID).Count(&fileCount)
		lastUpdate := sub.CreatedAt
		var latest models.Transaction
		if err := s.db.Where("subject_id = ?", sub.ID).
			Order("transaction_time DESC").First(&latest).Error; err == nil {
			lastUpdate = latest.TransactionTime
		}
		out = append(out, gin.H{
			"id":          sub.ID,
			"name":        sub.Name,
			"created_at":  sub.CreatedAt,
			"file_count":  fileCount,
			"last_update": lastUpdate,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) verifySubjectHandler(c *gin.Context) {
	var req struct {
		SubjectID uint   `json:"subject_id" binding:"required"`
		Password  string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subject, err := verifySubject(s.db, req.SubjectID, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	token, err := issueSubjectToken(subject.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verified", "token": token})
}

func (s *server) deleteSubjectHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireSubject(c, id) {
		return
	}
	var subject models.Subject
	if err := s.db.First(&subject, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return
	}
	// FK constraints cascade to files and transactions
	if err := s.db.Delete(&subject).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subject deleted"})
}

func (s *server) listFilesHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireSubject(c, id) {
		return
	}
	var files []models.SourceFile
	if err := s.db.Where("subject_id = ?", id).Order("id").Find(&files).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(files))
	for _, f := range files {
		var txCount int64
		s.db.Model(&models.Transaction{}).Where("source_file_id = ?", f.ID).Count(&txCount)
		out = append(out, gin.H{
			"id":          f.ID,
			"filename":    f.FileName,
			"format":      f.Format,
			"size_bytes":  f.SizeBytes,
			"uploaded_at": f.CreatedAt,
			"tx_count":    txCount,
		})
	}
	c.JSON(http.StatusOK, out)
}

// deleteFileHandler removes a source file; the FK cascade removes exactly
// the transactions it produced, never another file's.
func (s *server) deleteFileHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireSubject(c, id) {
		return
	}
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	var file models.SourceFile
	if err := s.db.Where("subject_id = ?", id).First(&file, fileID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	var txCount int64
	s.db.Model(&models.Transaction{}).Where("source_file_id = ?", file.ID).Count(&txCount)
	if err := s.db.Delete(&file).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("deleted %d transactions from %s", txCount, file.FileName)})
}

const maxUploadBytes = 50 * 1024 * 1024

// uploadHandler ingests one or more statement files for a subject. Each
// file is processed independently; per-file errors are reported alongside
// the successful results, never retried.
func (s *server) uploadHandler(c *gin.Context) {
	idStr := c.PostForm("subject_id")
	id64, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id required"})
		return
	}
	subjectID := uint(id64)
	if !requireSubject(c, subjectID) {
		return
	}
	var subject models.Subject
	if err := s.db.First(&subject, subjectID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		uploads = form.File["file"]
	}
	if len(uploads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files attached"})
		return
	}

	results := make([]gin.H, 0, len(uploads))
	for _, fh := range uploads {
		if fh.Size > maxUploadBytes {
			results = append(results, gin.H{"filename": fh.Filename, "error": "file too large (max 50MB)"})
			continue
		}
		f, err := fh.Open()
		if err != nil {
			results = append(results, gin.H{"filename": fh.Filename, "error": "cannot open upload"})
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			results = append(results, gin.H{"filename": fh.Filename, "error": "cannot read upload"})
			continue
		}
		res, err := s.ingestStatement(c.Request.Context(), subjectID, fh.Filename, data)
		if err != nil {
			results = append(results, gin.H{
				"filename": fh.Filename,
				"error":    err.Error(),
				"code":     ingestErrorCode(err),
			})
			continue
		}
		results = append(results, gin.H{
			"filename":       res.FileName,
			"file_id":        res.FileID,
			"parsed_rows":    res.ParsedRows,
			"rejected_rows":  res.RejectedRows,
			"duplicate_rows": res.DuplicateRows,
			"inserted_rows":  res.InsertedRows,
		})
	}
	c.JSON(http.StatusOK, results)
}

func ingestErrorCode(err error) string {
	switch {
	case errors.Is(err, statement.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, statement.ErrExtractionEmpty):
		return "extraction_empty"
	case errors.Is(err, statement.ErrSchemaInference):
		return "schema_inference_failed"
	case errors.Is(err, ErrIngestionFailed):
		return "ingestion_failed"
	}
	return "error"
}

// filterFromQuery builds a txFilter from the request; it writes the error
// response itself and reports ok=false when the request is malformed or the
// token is scoped to a different subject.
func (s *server) filterFromQuery(c *gin.Context) (txFilter, bool) {
	var f txFilter
	id64, err := strconv.ParseUint(c.Query("subject_id"), 10, 64)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id required"})
		return f, false
	}
	f.SubjectID = uint(id64)
	if !requireSubject(c, f.SubjectID) {
		return f, false
	}
	if v := c.Query("start_date"); v != "" {
		if err := f.setStart(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return f, false
		}
	}
	if v := c.Query("end_date"); v != "" {
		if err := f.setEnd(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return f, false
		}
	}
	if v := c.Query("min_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad min_amount"})
			return f, false
		}
		f.MinAmount = &d
	}
	if v := c.Query("max_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad max_amount"})
			return f, false
		}
		f.MaxAmount = &d
	}
	f.Direction = c.DefaultQuery("direction", "all")
	f.Type = c.Query("type")
	f.Method = c.Query("method")
	f.Keyword = c.Query("keyword")
	f.Period = c.DefaultQuery("period", "all")
	f.SpecialOnly = c.Query("special_only") == "true" || c.Query("special_only") == "1"
	if v := c.Query("counterparty"); v != "" {
		// multiple counterparties separated by comma (Chinese or English)
		for _, k := range strings.Split(strings.ReplaceAll(v, "，", ","), ",") {
			if k = strings.TrimSpace(k); k != "" {
				f.Counterparties = append(f.Counterparties, k)
			}
		}
	}
	return f, true
}

func (s *server) transactionsHandler(c *gin.Context) {
	f, ok := s.filterFromQuery(c)
	if !ok {
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, total, totalAmount, err := s.queryTransactions(f, skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "total_amount": totalAmount, "data": records})
}

func (s *server) summaryHandler(c *gin.Context) {
	f, ok := s.filterFromQuery(c)
	if !ok {
		return
	}
	income, expense, err := s.summary(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_income":  income,
		"total_expense": expense,
		"net_balance":   income.Sub(expense),
	})
}

func (s *server) statsByDateHandler(c *gin.Context) {
	f, ok := s.filterFromQuery(c)
	if !ok {
		return
	}
	bucket := c.DefaultQuery("bucket", "daily")
	if bucket != "daily" && bucket != "monthly" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bucket must be daily or monthly"})
		return
	}
	series, err := s.trendSeries(f, bucket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": bucket, "series": series})
}

func (s *server) statsByCounterpartyHandler(c *gin.Context) {
	f, ok := s.filterFromQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	exclude := c.DefaultQuery("exclude_anonymous", "false") == "true"
	top, err := s.topCounterparties(f, limit, exclude)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, top)
}

// aiAnalysisHandler feeds the subject's aggregates to the local LLM and
// caches the narrative until the dataset or window changes.
func (s *server) aiAnalysisHandler(c *gin.Context) {
	f, ok := s.filterFromQuery(c)
	if !ok {
		return
	}
	var subject models.Subject
	if err := s.db.First(&subject, f.SubjectID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return
	}

	var txCount int64
	s.db.Model(&models.Transaction{}).Where("subject_id = ?", f.SubjectID).Count(&txCount)
	startTag, endTag := "ALL", "ALL"
	if f.Start != nil {
		startTag = f.Start.Format("2006-01-02")
	}
	if f.End != nil {
		endTag = f.End.Format("2006-01-02")
	}
	signature := fmt.Sprintf("%d_%s_%s", txCount, startTag, endTag)
	if subject.AnalysisSignature == signature && subject.AIAnalysis != "" {
		c.JSON(http.StatusOK, gin.H{"analysis": subject.AIAnalysis})
		return
	}

	top, err := s.topCounterparties(f, 10, true)
	if err != nil || len(top) == 0 {
		c.JSON(http.StatusOK, gin.H{"analysis": "暂无足够交易数据进行分析。"})
		return
	}
	var parts []string
	for _, t := range top {
		parts = append(parts, fmt.Sprintf("%s(%s)", t.Name, t.Total.StringFixed(2)))
	}

	dayFilter, nightFilter := f, f
	dayFilter.Period = "day"
	nightFilter.Period = "night"
	dayInc, dayExp, _ := s.summary(dayFilter)
	nightInc, nightExp, _ := s.summary(nightFilter)

	prompt := fmt.Sprintf(`作为一名金融分析专家，请根据以下嫌疑人的交易数据进行简要分析，指出可能的可疑点。

【数据概览】
- 交易对象TOP10：%s
- 交易时间分析：
  - 日间(06:00-18:00)总收入：%s，总支出：%s
  - 夜间(18:00-06:00)总收入：%s，总支出：%s

请用简练、犀利的口吻（类似于侦探或审计专家），简短地给出你的核心点评和风险提示（200字以内）。关注大额交易或频繁交易、以及异常的交易对象，排除正常的对象（如超市购物等）。`,
		strings.Join(parts, ", "),
		dayInc.StringFixed(2), dayExp.StringFixed(2),
		nightInc.StringFixed(2), nightExp.StringFixed(2))

	analysis, err := s.ollama.generate(c.Request.Context(), prompt)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"analysis": "AI 分析连接失败: " + err.Error()})
		return
	}
	s.db.Model(&subject).Updates(map[string]any{
		"ai_analysis":        analysis,
		"analysis_signature": signature,
	})
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad " + name})
		return 0, false
	}
	return uint(id64), true
}
