package api

import (
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Niakdashit/Tirages-jeux/app"
	"github.com/Niakdashit/Tirages-jeux/domain/audit"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/domain/core"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
)

// processParams are the URL and form values shared by both upload endpoints
type processParams struct {
	Treatment string `validate:"required,oneof=OPT GAG"`
	Quota     int    `validate:"gte=0,lte=100000"`
	Year      int    `validate:"gte=2000,lte=2100"`
	Brand     string `validate:"max=64"`
	Partner   string `validate:"max=120"`
}

// handleProcess runs one uploaded file and responds with the workbook
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(w, r)
	if err != nil {
		s.writeError(w, "", err)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		s.writeError(w, "", errors.InvalidInput("multipart field \"file\" is required"))
		return
	}
	source, err := readUpload(headers[0])
	if err != nil {
		s.writeError(w, headers[0].Filename, err)
		return
	}

	if !s.acquireJob(w, r) {
		return
	}
	defer s.jobs.Release(1)
	result, err := s.processor.ProcessFile(r.Context(), req, source)
	if err != nil {
		s.writeError(w, source.Name, err)
		return
	}
	if !result.OK() {
		s.writeError(w, source.Name, result.Err)
		return
	}

	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", attachment(result.OutputName))
	w.Header().Set("X-File-ID", result.ID.String())
	w.Header().Set("X-Input-Rows", strconv.Itoa(result.Report.InputRows))
	w.Header().Set("X-Output-Rows", strconv.Itoa(result.Report.OutputRows))
	if result.PreviousDraws > 0 {
		w.Header().Set("X-Previous-Draws", strconv.Itoa(result.PreviousDraws))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Workbook)
}

// handleBatch runs every uploaded file and responds with a zip of the workbooks.
// Failed files are listed in the X-Failed-Files header; if none succeeds the
// response is a JSON error list.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(w, r)
	if err != nil {
		s.writeError(w, "", err)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, "", errors.InvalidInput("multipart field \"files\" is required"))
		return
	}
	sources := make([]app.SourceFile, 0, len(headers))
	for _, h := range headers {
		source, err := readUpload(h)
		if err != nil {
			s.writeError(w, h.Filename, err)
			return
		}
		sources = append(sources, source)
	}

	if !s.acquireJob(w, r) {
		return
	}
	defer s.jobs.Release(1)
	report, err := s.processor.Process(r.Context(), req, sources)
	if err != nil {
		s.writeError(w, "", err)
		return
	}

	var failures []ErrorDetail
	var failedNames []string
	for _, f := range report.Files {
		if !f.OK() {
			failures = append(failures, detailFor(f.Name, f.Err))
			failedNames = append(failedNames, f.Name)
		}
	}
	if report.Succeeded == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"errors": failures})
		return
	}

	archive, err := report.Archive(s.now())
	if err != nil {
		s.writeError(w, "", errors.WithCode(errors.CodeInternalError, err))
		return
	}
	name, _ := app.ArchiveName(req.Treatment, req.Brand, req.Year)

	w.Header().Set("Content-Type", contentTypeZip)
	w.Header().Set("Content-Disposition", attachment(name))
	w.Header().Set("X-Batch-ID", report.ID.String())
	if len(failedNames) > 0 {
		w.Header().Set("X-Failed-Files", strings.Join(failedNames, ", "))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// acquireJob waits for a processing slot. It writes a 503 and returns false when
// the client gives up first.
func (s *Server) acquireJob(w http.ResponseWriter, r *http.Request) bool {
	if err := s.jobs.Acquire(r.Context(), 1); err != nil {
		s.log.Warnw("[HTTP] gave up waiting for a processing slot", "error", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: ErrorDetail{
			Code:    codeServerBusy,
			Message: "too many files are being processed, retry later",
		}})
		return false
	}
	return true
}

type runsParams struct {
	Treatment   string `validate:"omitempty,oneof=OPT GAG"`
	Fingerprint string `validate:"omitempty,len=64,hexadecimal"`
	Limit       int    `validate:"gte=0,lte=1000"`
}

type runView struct {
	audit.RunEntry
	Timestamp string `json:"created_at"`
}

// handleRuns lists the run audit trail, most recent first
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{
			Code:    codeLedgerDisabled,
			Message: "run ledger is not configured (set LEDGER_DSN)",
		}})
		return
	}

	q := r.URL.Query()
	params := runsParams{
		Treatment:   strings.ToUpper(strings.TrimSpace(q.Get("treatment"))),
		Fingerprint: strings.ToLower(strings.TrimSpace(q.Get("fingerprint"))),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, "", errors.InvalidInput(fmt.Sprintf("limit must be an integer, got %q", raw)))
			return
		}
		params.Limit = n
	}
	if err := s.validateParams(params); err != nil {
		s.writeError(w, "", err)
		return
	}

	entries, err := s.ledger.List(r.Context(), audit.Query{
		Treatment:   contact.Treatment(params.Treatment),
		Fingerprint: core.SourceFingerprint(params.Fingerprint),
		Limit:       params.Limit,
	})
	if err != nil {
		s.writeError(w, "", errors.WithCode(errors.CodeInternalError, err))
		return
	}

	runs := make([]runView, len(entries))
	for i, e := range entries {
		runs[i] = runView{RunEntry: e, Timestamp: e.CreatedAt().Format(time.RFC3339)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// parseRequest reads the multipart form and validates the parameters
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (app.BatchRequest, error) {
	if s.defaults.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.defaults.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return app.BatchRequest{}, errors.Wrap(errors.InvalidInput(fmt.Sprintf("upload exceeds %d bytes", s.defaults.MaxUploadBytes)), "request too large")
		}
		return app.BatchRequest{}, errors.Wrap(errors.InvalidInput(err.Error()), "expected a multipart/form-data body")
	}

	params := processParams{
		Treatment: strings.ToUpper(chi.URLParam(r, "treatment")),
		Quota:     s.defaults.Quota,
		Year:      s.defaults.Year,
		Brand:     strings.TrimSpace(r.FormValue("brand")),
		Partner:   strings.TrimSpace(r.FormValue("partner")),
	}
	for key, target := range map[string]*int{"quota": &params.Quota, "year": &params.Year} {
		raw := strings.TrimSpace(r.FormValue(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return app.BatchRequest{}, errors.InvalidInput(fmt.Sprintf("%s must be an integer, got %q", key, raw))
		}
		*target = n
	}

	if err := s.validateParams(params); err != nil {
		return app.BatchRequest{}, err
	}

	return app.BatchRequest{
		Treatment:      contact.Treatment(params.Treatment),
		Quota:          params.Quota,
		TemplateWidths: s.defaults.TemplateWidths,
		Brand:          params.Brand,
		Partner:        params.Partner,
		Year:           params.Year,
	}, nil
}

func (s *Server) validateParams(params interface{}) error {
	err := s.validate.Struct(params)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.InvalidInput(fmt.Sprintf("invalid %s: fails '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.InvalidInput(err.Error())
}

func readUpload(h *multipart.FileHeader) (app.SourceFile, error) {
	f, err := h.Open()
	if err != nil {
		return app.SourceFile{}, errors.UnreadableInput(h.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return app.SourceFile{}, errors.UnreadableInput(h.Filename, err)
	}
	return app.SourceFile{Name: h.Filename, Data: data}, nil
}

func (s *Server) writeError(w http.ResponseWriter, file string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("[HTTP] request failed", "file", file, "error", err.Error())
	}
	writeJSON(w, status, ErrorBody{Error: detailFor(file, err)})
}

// attachment builds a Content-Disposition value, RFC 2231 encoded when needed
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
