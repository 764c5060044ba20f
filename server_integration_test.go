package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("integration-test-secret")
	_ = os.Setenv("UPLOAD_BASE", t.TempDir())
	db := initDB()
	srv := newServer(db)
	r := gin.Default()
	srv.setupRoutes(r)
	return r
}

// buildStatementXLSX authors a minimal statement workbook in memory.
func buildStatementXLSX(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadStatement(t *testing.T, r http.Handler, token string, subjectID float64, filename string, data []byte) map[string]any {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("subject_id", fmt.Sprintf("%.0f", subjectID))
	w, err := mw.CreateFormFile("files", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	_ = mw.Close()
	resp := performRequest(r, http.MethodPost, "/upload", buf, token, mw.FormDataContentType())
	if resp.Code != 200 {
		t.Fatalf("upload %s failed status=%d body=%s", filename, resp.Code, resp.Body.String())
	}
	var results []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &results); err != nil {
		t.Fatalf("bad upload response: %v body=%s", err, resp.Body.String())
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if e, ok := results[0]["error"]; ok {
		t.Fatalf("upload %s rejected: %v", filename, e)
	}
	return results[0]
}

func TestIngestionFlow(t *testing.T) {
	r := setupTestServer(t)

	// 1. Create subject (unique name per run)
	name := fmt.Sprintf("case_%d", time.Now().UnixNano())
	regBody, _ := json.Marshal(map[string]string{"name": name, "password": "pass1"})
	resp := performRequest(r, http.MethodPost, "/subjects", bytes.NewBuffer(regBody), "", "application/json")
	if resp.Code != 200 {
		t.Fatalf("create subject failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	subjectID, _ := created["id"].(float64)
	if subjectID <= 0 {
		t.Fatalf("bad subject id in response: %+v", created)
	}

	// 2. Verify password, obtain token
	verBody, _ := json.Marshal(map[string]any{"subject_id": subjectID, "password": "pass1"})
	resp = performRequest(r, http.MethodPost, "/subjects/verify", bytes.NewBuffer(verBody), "", "application/json")
	if resp.Code != 200 {
		t.Fatalf("verify failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var verResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &verResp)
	token, _ := verResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in verify response: %+v", verResp)
	}

	// 3. Upload a statement: 1 January row, 2 February rows
	first := buildStatementXLSX(t, [][]interface{}{
		{"交易时间", "交易对方", "金额(元)"},
		{"2023-01-15 08:00:00", "早餐店", "-12.00"},
		{"2023-02-01 09:30:00", "超市", "-45.20"},
		{"2023-02-15 23:30:00", "公司", "+8000.00"},
	})
	res := uploadStatement(t, r, token, subjectID, "statement.xlsx", first)
	if got := res["inserted_rows"].(float64); got != 3 {
		t.Fatalf("expected 3 inserted rows, got %v (%+v)", got, res)
	}

	// 4. Re-upload the same file: everything is a duplicate, nothing inserted
	res = uploadStatement(t, r, token, subjectID, "statement_copy.xlsx", first)
	if ins := res["inserted_rows"].(float64); ins != 0 {
		t.Fatalf("re-upload inserted %v rows, want 0 (%+v)", ins, res)
	}
	if dup := res["duplicate_rows"].(float64); dup != 3 {
		t.Fatalf("re-upload reported %v duplicates, want 3 (%+v)", dup, res)
	}

	// 5. Overlapping second export: one known row, one new row
	second := buildStatementXLSX(t, [][]interface{}{
		{"交易时间", "交易对方", "金额(元)"},
		{"2023-02-15 23:30:00", "公司", "+8000.00"},
		{"2023-03-01 12:00:00", "餐厅", "-88.00"},
	})
	res = uploadStatement(t, r, token, subjectID, "overlap.xlsx", second)
	if ins := res["inserted_rows"].(float64); ins != 1 {
		t.Fatalf("overlap upload inserted %v rows, want 1 (%+v)", ins, res)
	}
	if dup := res["duplicate_rows"].(float64); dup != 1 {
		t.Fatalf("overlap upload reported %v duplicates, want 1 (%+v)", dup, res)
	}
	overlapFileID := res["file_id"].(float64)

	base := fmt.Sprintf("subject_id=%.0f", subjectID)

	// 6. Date-range filter: only the two February records
	resp = performRequest(r, http.MethodGet, "/transactions?"+base+"&start_date=2023-02-01&end_date=2023-02-28", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("transactions failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var txResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &txResp)
	if total := txResp["total"].(float64); total != 2 {
		t.Fatalf("february filter returned %v records, want 2", total)
	}

	// 7. Summary over February
	resp = performRequest(r, http.MethodGet, "/stats/summary?"+base+"&start_date=2023-02-01&end_date=2023-02-28", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var sum map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &sum)
	if inc, _ := sum["total_income"].(string); inc != "8000" {
		t.Fatalf("february income = %v, want 8000", sum["total_income"])
	}

	// 8. Monthly buckets across the whole range: Jan, Feb, Mar
	resp = performRequest(r, http.MethodGet, "/stats/by-date?"+base+"&bucket=monthly", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("by-date failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var trend struct {
		Series []map[string]any `json:"series"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &trend)
	if len(trend.Series) != 3 {
		t.Fatalf("expected 3 monthly buckets, got %d: %+v", len(trend.Series), trend.Series)
	}

	// 9. Top counterparties
	resp = performRequest(r, http.MethodGet, "/stats/by-counterparty?"+base, nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("by-counterparty failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var top []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &top)
	if len(top) == 0 || top[0]["name"].(string) != "公司" {
		t.Fatalf("expected 公司 as heaviest counterparty, got %+v", top)
	}

	// 10. Deleting the overlap file removes only the row it introduced
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/subjects/%.0f/files/%.0f", subjectID, overlapFileID), nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("delete file failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/transactions?"+base, nil, token, "")
	_ = json.Unmarshal(resp.Body.Bytes(), &txResp)
	if total := txResp["total"].(float64); total != 3 {
		t.Fatalf("after file delete %v records remain, want 3", total)
	}

	// 11. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/transactions?"+base, nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized transactions got %d", unauth.Code)
	}

	// 12. Token for one subject must not read another
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/transactions?subject_id=%.0f", subjectID+1), nil, token, "")
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-subject read got %d", resp.Code)
	}

	// 13. Delete the subject; cascades clear its files and records
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/subjects/%.0f", subjectID), nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("delete subject failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestUploadRejectsUnsupportedBytes(t *testing.T) {
	r := setupTestServer(t)

	name := fmt.Sprintf("case_%d", time.Now().UnixNano())
	regBody, _ := json.Marshal(map[string]string{"name": name, "password": "pass1"})
	resp := performRequest(r, http.MethodPost, "/subjects", bytes.NewBuffer(regBody), "", "application/json")
	if resp.Code != 200 {
		t.Fatalf("create subject failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	subjectID := created["id"].(float64)

	verBody, _ := json.Marshal(map[string]any{"subject_id": subjectID, "password": "pass1"})
	resp = performRequest(r, http.MethodPost, "/subjects/verify", bytes.NewBuffer(verBody), "", "application/json")
	var verResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &verResp)
	token := verResp["token"].(string)

	// plain text dressed up with an xlsx extension
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("subject_id", fmt.Sprintf("%.0f", subjectID))
	w, _ := mw.CreateFormFile("files", "notes.xlsx")
	_, _ = w.Write([]byte("just some text"))
	_ = mw.Close()
	resp = performRequest(r, http.MethodPost, "/upload", buf, token, mw.FormDataContentType())
	if resp.Code != 200 {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var results []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &results)
	if len(results) != 1 || results[0]["code"] != "unsupported_format" {
		t.Fatalf("expected unsupported_format result, got %+v", results)
	}

	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/subjects/%.0f", subjectID), nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("cleanup delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	initDB()
}
