package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Niakdashit/Tirages-jeux/adapters/excel"
	"github.com/Niakdashit/Tirages-jeux/adapters/ledger"
	"github.com/Niakdashit/Tirages-jeux/app"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/output"
)

type upload struct {
	name string
	data []byte
}

func newTestServer(maxUpload int64) *Server {
	svc := app.NewBatchService(excel.NewDecoder(nil), excel.NewWriter(nil), nil)
	return NewServer(svc, Defaults{
		Year:           2025,
		Quota:          10,
		TemplateWidths: contact.ColumnWidths{1: 15},
		MaxUploadBytes: maxUpload,
	}, nil)
}

func multipartBody(t *testing.T, field string, files []upload, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func post(t *testing.T, s *Server, path, field string, files []upload, values map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, files, values)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const gagTSV = "Civilité\tNom\tEmail\tCode Postal\n" +
	"Homme\tPASTEUR\tlouis@example.com\t39100\n" +
	"Femme\tcurie\tmarie@example.com\t75 012\n" +
	"Femme\tsand\tjeu.concours@example.com\t36400\n"

const optTSV = "Civilité\tNom\tVille\tEmail\tPartenaire - Homair\n" +
	"Femme\tCurie\tParis\tmarie@example.com\tTrue\n" +
	"Homme\tPasteur\tEmerainville\tlouis@example.com\tTrue\n" +
	"Femme\tSand\tNohant\tgeorge@example.com\tFalse\n"

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProcessGagFile(t *testing.T) {
	rec := post(t, newTestServer(0), "/v1/process/gag", "file",
		[]upload{{"tirage.tsv", []byte(gagTSV)}},
		map[string]string{"quota": "1", "brand": "CuisineActuelle.fr"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get("X-Input-Rows"))

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "GAG CA.FR - GJ 2025 - tirage.xlsx", params["filename"])

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	winners, err := f.GetRows(output.SheetWinners)
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, []string{"Femme", "Curie", "75012", "marie@example.com"}, winners[1])

	reserves, err := f.GetRows(output.SheetReserves)
	require.NoError(t, err)
	assert.Len(t, reserves, 3)
}

func TestProcessOptFile(t *testing.T) {
	rec := post(t, newTestServer(0), "/v1/process/OPT", "file",
		[]upload{{"export.tsv", []byte(optTSV)}},
		map[string]string{"partner": "Homair"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Output-Rows"))

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "OPT FA.FR - Homair GJ 2025 - export.xlsx", params["filename"])

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	width, err := f.GetColWidth(output.SheetOptin, "A")
	require.NoError(t, err)
	assert.Equal(t, 15.0, width)
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		field    string
		files    []upload
		values   map[string]string
		status   int
		code     string
		contains string
	}{
		{
			name: "unknown treatment", path: "/v1/process/xyz", field: "file",
			files:  []upload{{"a.tsv", []byte(gagTSV)}},
			status: http.StatusBadRequest, code: errors.CodeInvalidInput, contains: "treatment",
		},
		{
			name: "non numeric quota", path: "/v1/process/GAG", field: "file",
			files: []upload{{"a.tsv", []byte(gagTSV)}}, values: map[string]string{"quota": "ten"},
			status: http.StatusBadRequest, code: errors.CodeInvalidInput, contains: "quota",
		},
		{
			name: "zero quota", path: "/v1/process/GAG", field: "file",
			files: []upload{{"a.tsv", []byte(gagTSV)}}, values: map[string]string{"quota": "0"},
			status: http.StatusBadRequest, code: errors.CodeInvalidInput, contains: "quota",
		},
		{
			name: "unknown brand", path: "/v1/process/OPT", field: "file",
			files: []upload{{"a.tsv", []byte(optTSV)}}, values: map[string]string{"brand": "Gala.fr"},
			status: http.StatusBadRequest, code: errors.CodeInvalidInput, contains: "brand",
		},
		{
			name: "missing file field", path: "/v1/process/OPT", field: "other",
			files:  []upload{{"a.tsv", []byte(optTSV)}},
			status: http.StatusBadRequest, code: errors.CodeInvalidInput, contains: "file",
		},
		{
			name: "missing email column", path: "/v1/process/GAG", field: "file",
			files:  []upload{{"a.tsv", []byte("Civilité\tNom\nFemme\tCurie\n")}},
			status: http.StatusUnprocessableEntity, code: errors.CodeMissingColumn, contains: "Email",
		},
		{
			name: "missing partner column", path: "/v1/process/OPT", field: "file",
			files:  []upload{{"a.tsv", []byte(gagTSV)}},
			status: http.StatusUnprocessableEntity, code: errors.CodeMissingColumn, contains: "Partenaire",
		},
		{
			name: "unreadable workbook", path: "/v1/process/GAG", field: "file",
			files:  []upload{{"a.xlsx", []byte("PK\x03\x04broken")}},
			status: http.StatusUnprocessableEntity, code: errors.CodeUnreadableInput, contains: "a.xlsx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newTestServer(0), tt.path, tt.field, tt.files, tt.values)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))
			detail := decodeError(t, rec)
			assert.Equal(t, tt.code, detail.Code)
			assert.Contains(t, detail.Message, tt.contains)
		})
	}
}

func TestMissingColumnDetail(t *testing.T) {
	rec := post(t, newTestServer(0), "/v1/process/GAG", "file",
		[]upload{{"a.tsv", []byte("Civilité\tNom\nFemme\tCurie\n")}}, nil)

	detail := decodeError(t, rec)
	assert.Equal(t, "a.tsv", detail.File)
	assert.Equal(t, []string{"Email"}, detail.Missing)
	assert.Equal(t, []string{"Civilité", "Nom"}, detail.Found)
}

func TestNotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/process/OPT", bytes.NewBufferString(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestServer(0).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeInvalidInput, decodeError(t, rec).Code)
}

func TestUploadTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 4096)
	rec := post(t, newTestServer(1024), "/v1/process/GAG", "file", []upload{{"a.tsv", big}}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "1024")
}

func TestBatchArchive(t *testing.T) {
	rec := post(t, newTestServer(0), "/v1/batches/gag", "files",
		[]upload{
			{"first.tsv", []byte(gagTSV)},
			{"broken.xlsx", []byte("PK\x03\x04broken")},
			{"second.tsv", []byte(gagTSV)},
		},
		map[string]string{"quota": "2"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeZip, rec.Header().Get("Content-Type"))
	assert.Equal(t, "broken.xlsx", rec.Header().Get("X-Failed-Files"))

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "GAG FA.FR - GJ 2025.zip", params["filename"])

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "GAG FA.FR - GJ 2025 - first.xlsx", zr.File[0].Name)
	assert.Equal(t, "GAG FA.FR - GJ 2025 - second.xlsx", zr.File[1].Name)
}

func TestBatchAllFailed(t *testing.T) {
	rec := post(t, newTestServer(0), "/v1/batches/OPT", "files",
		[]upload{{"a.tsv", []byte(gagTSV)}, {"b.tsv", []byte("")}}, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Errors []ErrorDetail `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 2)
	assert.Equal(t, errors.CodeMissingColumn, body.Errors[0].Code)
	assert.Equal(t, "a.tsv", body.Errors[0].File)
	assert.Equal(t, errors.CodeUnreadableInput, body.Errors[1].Code)
}

// MockProcessor is a mock implementation of Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, req app.BatchRequest, files []app.SourceFile) (app.BatchReport, error) {
	args := m.Called(ctx, req, files)
	return args.Get(0).(app.BatchReport), args.Error(1)
}

func (m *MockProcessor) ProcessFile(ctx context.Context, req app.BatchRequest, file app.SourceFile) (app.FileResult, error) {
	args := m.Called(ctx, req, file)
	return args.Get(0).(app.FileResult), args.Error(1)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	processor := new(MockProcessor)
	processor.On("ProcessFile", mock.Anything, mock.Anything, mock.Anything).
		Return(app.FileResult{Name: "a.tsv", Err: fmt.Errorf("open /var/secret: permission denied")}, nil)

	s := NewServer(processor, Defaults{Year: 2025, Quota: 1}, nil)
	rec := post(t, s, "/v1/process/GAG", "file", []upload{{"a.tsv", []byte(gagTSV)}}, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, errors.CodeInternalError, detail.Code)
	assert.Equal(t, "internal error", detail.Message)
	processor.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.MissingColumn([]string{"Email"}, nil, nil), http.StatusUnprocessableEntity},
		{errors.UnreadableInput("a.tsv", fmt.Errorf("bad")), http.StatusUnprocessableEntity},
		{errors.InvalidInput("quota"), http.StatusBadRequest},
		{errors.Wrap(errors.InvalidInput("quota"), "ctx"), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
		{errors.ConfigInvalid("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestRunsDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeLedgerDisabled, decodeError(t, rec).Code)
}

func TestRunsLedger(t *testing.T) {
	store, err := ledger.Open(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	svc := app.NewBatchService(excel.NewDecoder(nil), excel.NewWriter(nil), nil).WithLedger(store)
	s := NewServer(svc, Defaults{Year: 2025, Quota: 1}, nil).WithLedger(store)

	first := post(t, s, "/v1/process/GAG", "file", []upload{{"gag.tsv", []byte(gagTSV)}}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-Previous-Draws"))

	second := post(t, s, "/v1/process/GAG", "file", []upload{{"again.tsv", []byte(gagTSV)}}, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "1", second.Header().Get("X-Previous-Draws"))

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/v1/runs?treatment=gag&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []map[string]interface{} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "again.tsv", body.Runs[0]["source_name"])
	assert.Equal(t, "GAG", body.Runs[0]["treatment"])
	assert.Equal(t, float64(1), body.Runs[0]["winners"])
	assert.NotEmpty(t, body.Runs[0]["created_at"])
	fingerprint, _ := body.Runs[0]["fingerprint"].(string)
	assert.Len(t, fingerprint, 64)

	rec = get("/v1/runs?fingerprint=" + fingerprint)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 2)

	for _, target := range []string{"/v1/runs?limit=ten", "/v1/runs?limit=5000", "/v1/runs?treatment=XYZ", "/v1/runs?fingerprint=abc"} {
		rec := get(target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, errors.CodeInvalidInput, decodeError(t, rec).Code, target)
	}
}

func TestBusyServerRejectsAbandonedRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	processor := new(MockProcessor)
	processor.On("ProcessFile", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(app.FileResult{Name: "a.tsv", Err: errors.InvalidInput("stop")}, nil).Once()

	s := NewServer(processor, Defaults{Year: 2025, Quota: 1, MaxJobs: 1}, nil)

	firstBody, firstType := multipartBody(t, "file", []upload{{"a.tsv", []byte(gagTSV)}}, nil)
	firstReq := httptest.NewRequest(http.MethodPost, "/v1/process/GAG", firstBody)
	firstReq.Header.Set("Content-Type", firstType)

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, firstReq)
		done <- rec.Code
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	body, contentType := multipartBody(t, "file", []upload{{"b.tsv", []byte(gagTSV)}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/process/GAG", body).WithContext(ctx)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeServerBusy, decodeError(t, rec).Code)

	close(release)
	assert.Equal(t, http.StatusBadRequest, <-done)
	processor.AssertExpectations(t)
}
