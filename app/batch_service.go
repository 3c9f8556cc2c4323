package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Niakdashit/Tirages-jeux/domain/audit"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/domain/core"
	"github.com/Niakdashit/Tirages-jeux/internal/cleaner"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
	"github.com/Niakdashit/Tirages-jeux/internal/output"
	"github.com/Niakdashit/Tirages-jeux/internal/selection"
	"github.com/Niakdashit/Tirages-jeux/ports"
)

// BatchService runs OPT and GAG treatments over uploaded files
type BatchService struct {
	decoder    ports.TableDecoder
	writer     ports.WorkbookWriter
	log        *logger.Logger
	rules      cleaner.Rules
	emailRules contact.GagEmailRules
	ledger     ports.RunLedger
	now        func() time.Time
}

// BatchRequest holds the parameters shared by every file of a batch
type BatchRequest struct {
	Treatment      contact.Treatment
	Quota          int                  // GAG only
	TemplateWidths contact.ColumnWidths // OPT only
	Brand          string
	Partner        string
	Year           int
}

// SourceFile is one uploaded file
type SourceFile struct {
	Name string
	Data []byte
}

// FileResult is the outcome of one file. A failed file has Err set and no tables.
type FileResult struct {
	ID          core.FileID
	Name        string
	OutputName  string
	Fingerprint core.SourceFingerprint
	Tables      []output.OutputTable
	Workbook    []byte
	Report      cleaner.Report
	Stats       *selection.Stats
	// PreviousDraws counts earlier GAG draws of the same source bytes (ledger only)
	PreviousDraws int
	Err           error
}

// OK reports whether the file produced a workbook
func (r FileResult) OK() bool {
	return r.Err == nil
}

// BatchReport lists file results in submission order
type BatchReport struct {
	ID        core.BatchID
	Treatment contact.Treatment
	Files     []FileResult
	Succeeded int
	Failed    int
}

// NewBatchService creates a batch service with the default cleaning and exclusion rules
func NewBatchService(decoder ports.TableDecoder, writer ports.WorkbookWriter, log *logger.Logger) *BatchService {
	if log == nil {
		log = logger.Nop()
	}
	return &BatchService{
		decoder:    decoder,
		writer:     writer,
		log:        log,
		rules:      cleaner.DefaultRules(),
		emailRules: contact.DefaultGagEmailRules,
		now:        time.Now,
	}
}

// WithLedger records every processed file in the run ledger
func (s *BatchService) WithLedger(ledger ports.RunLedger) *BatchService {
	s.ledger = ledger
	return s
}

// Validate checks the request before any file is read
func (r BatchRequest) Validate() error {
	switch r.Treatment {
	case contact.TreatmentOpt, contact.TreatmentGag:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown treatment %q", r.Treatment))
	}
	if r.Treatment == contact.TreatmentGag && r.Quota < 1 {
		return errors.InvalidInput(fmt.Sprintf("quota must be a positive integer, got %d", r.Quota))
	}
	if _, err := BrandPrefix(r.Brand); err != nil {
		return err
	}
	return nil
}

// Process handles files sequentially in the given order. A file failure is recorded
// in its FileResult and the batch continues; only an invalid request or a cancelled
// context stop the batch.
func (s *BatchService) Process(ctx context.Context, req BatchRequest, files []SourceFile) (BatchReport, error) {
	report := BatchReport{ID: core.NewBatchID(), Treatment: req.Treatment}
	if err := req.Validate(); err != nil {
		return report, err
	}

	log := s.log.With("batch", report.ID.String(), "treatment", req.Treatment)
	log.Infof("[Batch] starting %d file(s)", len(files))
	start := time.Now()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			log.Warnf("[Batch] cancelled after %d of %d file(s)", len(report.Files), len(files))
			return report, errors.Wrap(err, "batch cancelled")
		}

		result := s.processFile(ctx, req, report.ID, file, log)
		if result.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Files = append(report.Files, result)
	}

	log.Infow("[Batch] done",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// ProcessFile runs a single file through the treatment
func (s *BatchService) ProcessFile(ctx context.Context, req BatchRequest, file SourceFile) (FileResult, error) {
	if err := req.Validate(); err != nil {
		return FileResult{Name: file.Name}, err
	}
	if err := ctx.Err(); err != nil {
		return FileResult{Name: file.Name}, errors.Wrap(err, "request cancelled")
	}
	return s.processFile(ctx, req, core.NewBatchID(), file, s.log.With("treatment", req.Treatment)), nil
}

func (s *BatchService) processFile(ctx context.Context, req BatchRequest, batch core.BatchID, file SourceFile, log *logger.Logger) FileResult {
	result := FileResult{
		ID:          core.NewFileID(),
		Name:        file.Name,
		Fingerprint: core.NewSourceFingerprint(file.Data),
	}
	log = log.With("file", file.Name, "fingerprint", result.Fingerprint.Short())
	defer func() { s.recordRun(ctx, req, batch, result, log) }()

	if req.Treatment == contact.TreatmentGag {
		result.PreviousDraws = s.previousDraws(ctx, result.Fingerprint, log)
	}

	tables, report, stats, err := s.run(req, file)
	result.Report = report
	result.Stats = stats
	if err != nil {
		result.Err = errors.Wrapf(err, "%s", file.Name)
		log.Warnw("[Batch] file failed", "code", errors.GetCode(err), "error", err.Error())
		return result
	}

	workbook, err := s.writer.Write(tables)
	if err != nil {
		result.Err = errors.Wrapf(errors.WithCode(errors.CodeInternalError, err), "%s: write workbook", file.Name)
		log.Errorw("[Batch] workbook serialization failed", "error", err.Error())
		return result
	}

	result.Tables = tables
	result.Workbook = workbook
	// Validate already accepted the brand
	result.OutputName, _ = OutputName(req.Treatment, req.Brand, req.Partner, req.Year, file.Name)

	log.Infow("[Batch] file processed",
		"input_rows", report.InputRows,
		"output_rows", report.OutputRows,
		"duplicates", report.DuplicatesRemoved,
		"excluded", report.ExcludedRows,
		"output", result.OutputName,
	)
	return result
}

// previousDraws looks the source up in the ledger. Lookup failures only cost the warning.
func (s *BatchService) previousDraws(ctx context.Context, fp core.SourceFingerprint, log *logger.Logger) int {
	if s.ledger == nil {
		return 0
	}
	entries, err := s.ledger.List(ctx, audit.Query{Treatment: contact.TreatmentGag, Fingerprint: fp})
	if err != nil {
		log.Warnw("[Ledger] lookup failed", "error", err.Error())
		return 0
	}
	drawn := 0
	for _, e := range entries {
		if !e.Failed() {
			drawn++
		}
	}
	if drawn > 0 {
		log.Warnw("[Batch] source already drawn", "previous_draws", drawn, "last_batch", entries[0].BatchID)
	}
	return drawn
}

func (s *BatchService) recordRun(ctx context.Context, req BatchRequest, batch core.BatchID, result FileResult, log *logger.Logger) {
	if s.ledger == nil {
		return
	}
	entry := audit.RunEntry{
		FileID:      result.ID.String(),
		BatchID:     batch.String(),
		Treatment:   string(req.Treatment),
		SourceName:  result.Name,
		Fingerprint: result.Fingerprint.String(),
		OutputName:  result.OutputName,
		InputRows:   result.Report.InputRows,
		OutputRows:  result.Report.OutputRows,
		Duplicates:  result.Report.DuplicatesRemoved,
		Excluded:    result.Report.ExcludedRows,
		CreatedAtMs: s.now().UnixMilli(),
	}
	if req.Treatment == contact.TreatmentGag {
		entry.Quota = req.Quota
	}
	if result.Stats != nil {
		for _, n := range result.Stats.Excluded {
			entry.Excluded += n
		}
	}
	if len(result.Tables) == 2 {
		entry.Winners = len(result.Tables[0].Records)
		entry.Reserves = len(result.Tables[1].Records)
	}
	if !result.OK() {
		entry.ErrorCode = errors.GetCode(result.Err)
	}

	if err := s.ledger.Record(ctx, entry); err != nil {
		log.Errorw("[Ledger] failed to record run", "error", err.Error())
	}
}

func (s *BatchService) run(req BatchRequest, file SourceFile) ([]output.OutputTable, cleaner.Report, *selection.Stats, error) {
	raw, err := s.decoder.Decode(file.Name, file.Data)
	if err != nil {
		return nil, cleaner.Report{}, nil, err
	}

	table, report, err := cleaner.Clean(raw, req.Treatment, s.rules)
	if err != nil {
		return nil, report, nil, err
	}

	switch req.Treatment {
	case contact.TreatmentOpt:
		return output.AssembleOpt(table, req.TemplateWidths), report, nil, nil
	default:
		partition, stats, err := selection.Select(table, req.Quota, s.emailRules)
		if err != nil {
			return nil, report, nil, err
		}
		s.log.Debugw("[Selection] draw made",
			"winners", partition.Winners.Len(),
			"reserves", partition.Reserves.Len(),
			"eligible", stats.Eligible,
		)
		return output.AssembleGag(partition), report, &stats, nil
	}
}

var brandPrefixes = map[string]string{
	"femmeactuelle.fr":   "FA.FR",
	"cuisineactuelle.fr": "CA.FR",
	"fa.fr":              "FA.FR",
	"ca.fr":              "CA.FR",
}

// DefaultBrand is used when no brand is given
const DefaultBrand = "FemmeActuelle.fr"

// BrandPrefix maps a brand site (or its prefix) to the prefix used in file labels
func BrandPrefix(brand string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(brand))
	if key == "" {
		key = strings.ToLower(DefaultBrand)
	}
	prefix, ok := brandPrefixes[key]
	if !ok {
		return "", errors.InvalidInput(fmt.Sprintf("unknown brand %q (expected FemmeActuelle.fr or CuisineActuelle.fr)", brand))
	}
	return prefix, nil
}

// OutputName builds the download label of a processed file, for example
// "OPT FA.FR - Homair GJ 2025 - export.xlsx". The source extension is replaced.
func OutputName(treatment contact.Treatment, brand, partner string, year int, source string) (string, error) {
	prefix, err := BrandPrefix(brand)
	if err != nil {
		return "", err
	}
	base := filepath.Base(strings.ReplaceAll(source, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s - ", treatment.Code(), prefix)
	if partner = strings.TrimSpace(partner); partner != "" {
		b.WriteString(partner)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "GJ %d - %s.xlsx", year, base)
	return b.String(), nil
}

// ArchiveName labels the zip bundling every workbook of a batch
func ArchiveName(treatment contact.Treatment, brand string, year int) (string, error) {
	prefix, err := BrandPrefix(brand)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s - GJ %d.zip", treatment.Code(), prefix, year), nil
}
