package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Niakdashit/Tirages-jeux/adapters/excel"
	"github.com/Niakdashit/Tirages-jeux/adapters/ledger"
	"github.com/Niakdashit/Tirages-jeux/app"
	"github.com/Niakdashit/Tirages-jeux/domain/audit"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/domain/core"
	"github.com/Niakdashit/Tirages-jeux/internal/cleaner"
	"github.com/Niakdashit/Tirages-jeux/internal/config"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
	"github.com/Niakdashit/Tirages-jeux/internal/schema"
	"github.com/Niakdashit/Tirages-jeux/internal/selection"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tirages",
		Short:         "Clean partner opt-in lists and draw contest winners from spreadsheet exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newProcessCmd(),
		newInspectCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

type processOptions struct {
	treatment string
	quota     int
	template  string
	brand     string
	partner   string
	year      int
	outDir    string
	zip       bool
	jsonOut   bool
	verbose   bool
	ledgerDSN string
}

func newProcessCmd() *cobra.Command {
	opts := processOptions{}

	cmd := &cobra.Command{
		Use:   "process [files...]",
		Short: "Run the OPT or GAG treatment on one or more exports",
		Long: `Run a treatment on each file, in order, and write one workbook per file.

OPT keeps the rows opted in to the partner ("Partenaire - ..." column), cleans and
deduplicates them, drops excluded cities and writes an "Optin" sheet sized like the
reference template.

GAG cleans and deduplicates entrants, then draws --quota winners (women first, then
men, file order) and writes "Gagnants" and "Réservistes" sheets.

Defaults come from the environment (DEFAULT_QUOTA, CAMPAIGN_YEAR, TEMPLATE_OPT_PATH,
OUTPUT_DIR), loaded from .env when present.

Example: tirages process --treatment GAG --quota 20 --brand CuisineActuelle.fr export.tsv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), cmd.OutOrStdout(), cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.treatment, "treatment", "t", "", "Treatment to apply: OPT or GAG (required)")
	cmd.Flags().IntVarP(&opts.quota, "quota", "q", 0, "Number of GAG winners (default DEFAULT_QUOTA)")
	cmd.Flags().StringVar(&opts.template, "template", "", "OPT reference workbook (default TEMPLATE_OPT_PATH)")
	cmd.Flags().StringVar(&opts.brand, "brand", app.DefaultBrand, "Brand site: FemmeActuelle.fr or CuisineActuelle.fr")
	cmd.Flags().StringVar(&opts.partner, "partner", "", "Partner name used in output file names")
	cmd.Flags().IntVar(&opts.year, "year", 0, "Campaign year used in output file names (default CAMPAIGN_YEAR)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().BoolVar(&opts.zip, "zip", false, "Also bundle every workbook into a single zip archive")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the batch report as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log each processing step")
	cmd.Flags().StringVar(&opts.ledgerDSN, "ledger", "", "Record runs in this ledger (default LEDGER_DSN)")
	_ = cmd.MarkFlagRequired("treatment")

	return cmd
}

func runProcess(ctx context.Context, out io.Writer, cmd *cobra.Command, opts processOptions, paths []string) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}

	treatment, err := contact.ParseTreatment(opts.treatment)
	if err != nil {
		return errors.Wrap(errors.InvalidInput(err.Error()), "invalid --treatment")
	}
	if !cmd.Flags().Changed("quota") {
		opts.quota = appConfig.Campaign.DefaultQuota
	}
	if opts.year == 0 {
		opts.year = appConfig.Campaign.Year
	}
	if opts.outDir == "" {
		opts.outDir = appConfig.Paths.OutputDir
	}
	if opts.template == "" {
		opts.template = appConfig.Paths.TemplateOpt
	}

	logr := logger.Nop()
	if opts.verbose {
		if logr, err = logger.New("tirages", "debug", "DEBUG"); err != nil {
			return err
		}
		defer logr.SafeSync()
	}

	req := app.BatchRequest{
		Treatment: treatment,
		Quota:     opts.quota,
		Brand:     opts.brand,
		Partner:   opts.partner,
		Year:      opts.year,
	}
	if treatment == contact.TreatmentOpt {
		widths, err := readTemplate(opts.template)
		if err != nil {
			fmt.Fprintf(out, "⚠️  %v, Optin sheets keep default widths\n", err)
		}
		req.TemplateWidths = widths
	}

	files := make([]app.SourceFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(errors.UnreadableInput(p, err), "failed to read input")
		}
		files = append(files, app.SourceFile{Name: filepath.Base(p), Data: data})
	}

	service := app.NewBatchService(excel.NewDecoder(logr), excel.NewWriter(logr), logr)
	if dsn := ledgerDSN(opts.ledgerDSN, appConfig); dsn != "" {
		store, err := ledger.Open(ctx, dsn, logr)
		if err != nil {
			return err
		}
		defer store.Close()
		service.WithLedger(store)
	}
	report, err := service.Process(ctx, req, files)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	written := make(map[string]string, len(report.Files))
	for _, f := range report.Files {
		if !f.OK() {
			continue
		}
		target := filepath.Join(opts.outDir, f.OutputName)
		if err := os.WriteFile(target, f.Workbook, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		written[f.Name] = target
	}

	var archivePath string
	if opts.zip && report.Succeeded > 0 {
		archive, err := report.Archive(time.Now())
		if err != nil {
			return err
		}
		name, _ := app.ArchiveName(treatment, opts.brand, opts.year)
		archivePath = filepath.Join(opts.outDir, name)
		if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", archivePath, err)
		}
	}

	if opts.jsonOut {
		printJSONReport(out, report, written, archivePath)
	} else {
		printReport(out, report, written, archivePath)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", report.Failed, len(report.Files))
	}
	return nil
}

func ledgerDSN(flag string, appConfig *config.Config) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	return appConfig.Ledger.DSN
}

func readTemplate(path string) (contact.ColumnWidths, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reference template %s not readable", path)
	}
	widths, err := excel.LoadTemplateWidths(data)
	if err != nil {
		return nil, fmt.Errorf("reference template %s: %w", path, err)
	}
	return widths, nil
}

func printReport(out io.Writer, report app.BatchReport, written map[string]string, archivePath string) {
	fmt.Fprintf(out, "\n📊 %s BATCH RESULTS\n", report.Treatment)
	fmt.Fprintf(out, "Batch: %s\n", report.ID)
	fmt.Fprintf(out, "Files: %d succeeded, %d failed\n", report.Succeeded, report.Failed)

	for i, f := range report.Files {
		if !f.OK() {
			fmt.Fprintf(out, "\n%d. ❌ %s\n", i+1, f.Name)
			fmt.Fprintf(out, "   %s: %v\n", errors.GetCode(f.Err), f.Err)
			continue
		}

		fmt.Fprintf(out, "\n%d. ✅ %s\n", i+1, f.Name)
		fmt.Fprintf(out, "   Output: %s\n", written[f.Name])
		if f.PreviousDraws > 0 {
			fmt.Fprintf(out, "   ⚠️  This exact file was already drawn %d time(s)\n", f.PreviousDraws)
		}
		r := f.Report
		if report.Treatment == contact.TreatmentOpt {
			fmt.Fprintf(out, "   Rows: %d read, %d opted in (%s), %d duplicates, %d excluded cities, %d kept\n",
				r.InputRows, r.OptInRows, r.PartnerColumn, r.DuplicatesRemoved, r.ExcludedRows, r.OutputRows)
		} else {
			fmt.Fprintf(out, "   Rows: %d read, %d duplicates, %d kept\n", r.InputRows, r.DuplicatesRemoved, r.OutputRows)
		}
		if f.Stats != nil && len(f.Tables) == 2 {
			fmt.Fprintf(out, "   Draw: %d winners, %d reserves (%d eligible: %d women, %d men, %d other)\n",
				len(f.Tables[0].Records), len(f.Tables[1].Records),
				f.Stats.Eligible, f.Stats.Female, f.Stats.Male, f.Stats.Unassigned)
			for _, reason := range sortedReasons(f.Stats.Excluded) {
				fmt.Fprintf(out, "   🚫 %s: %d\n", reason, f.Stats.Excluded[reason])
			}
		}
	}

	if archivePath != "" {
		fmt.Fprintf(out, "\n💾 Archive saved to: %s\n", archivePath)
	}
}

func sortedReasons(m map[selection.ExclusionReason]int) []selection.ExclusionReason {
	keys := make([]selection.ExclusionReason, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type fileSummary struct {
	Name        string           `json:"name"`
	OutputPath  string           `json:"output_path,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	Code        string           `json:"error_code,omitempty"`
	Error       string           `json:"error,omitempty"`
	Report      cleaner.Report   `json:"report"`
	Stats       *selection.Stats `json:"stats,omitempty"`
	Sheets      map[string]int   `json:"sheets,omitempty"`
}

func printJSONReport(out io.Writer, report app.BatchReport, written map[string]string, archivePath string) {
	summary := struct {
		Batch     string        `json:"batch"`
		Treatment string        `json:"treatment"`
		Succeeded int           `json:"succeeded"`
		Failed    int           `json:"failed"`
		Archive   string        `json:"archive,omitempty"`
		Files     []fileSummary `json:"files"`
	}{
		Batch:     report.ID.String(),
		Treatment: string(report.Treatment),
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Archive:   archivePath,
	}
	for _, f := range report.Files {
		fs := fileSummary{
			Name:        f.Name,
			OutputPath:  written[f.Name],
			Fingerprint: f.Fingerprint.String(),
			Report:      f.Report,
			Stats:       f.Stats,
		}
		if !f.OK() {
			fs.Code = errors.GetCode(f.Err)
			fs.Error = f.Err.Error()
		} else {
			fs.Sheets = make(map[string]int, len(f.Tables))
			for _, t := range f.Tables {
				fs.Sheets[t.Name] = len(t.Records)
			}
		}
		summary.Files = append(summary.Files, fs)
	}

	jsonData, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintln(out, string(jsonData))
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Show how the columns of an export map to canonical fields",
		Long: `Decode a file and print its headers, the canonical field each one resolves to,
and the partner opt-in column when present. Nothing is written.

Example: tirages inspect export.tsv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0])
		},
	}
	return cmd
}

func runInspect(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.UnreadableInput(path, err)
	}
	raw, err := excel.NewDecoder(nil).Decode(filepath.Base(path), data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "🔬 %s (%s)\n", filepath.Base(path), excel.DetectFormat(path, data))
	fmt.Fprintf(out, "Columns: %d, Rows: %d\n", len(raw.Headers), len(raw.Rows))

	mapping := schema.Resolve(raw.Headers, contact.DefaultAliases)
	fmt.Fprintf(out, "\nResolved fields:\n")
	for _, f := range contact.DefaultAliases.Fields() {
		if source, ok := mapping.Source(f); ok {
			fmt.Fprintf(out, "  ✅ %-22s ← %q\n", contact.DefaultAliases.DisplayName(f), source)
		} else {
			fmt.Fprintf(out, "  ·  %-22s (not found)\n", contact.DefaultAliases.DisplayName(f))
		}
	}

	var unused []string
	claimed := make(map[string]bool)
	for _, b := range mapping.Bindings {
		claimed[b.Source] = true
	}
	for _, h := range raw.Headers {
		if !claimed[h] {
			unused = append(unused, fmt.Sprintf("%q", h))
		}
	}
	if len(unused) > 0 {
		fmt.Fprintf(out, "\nIgnored columns: %s\n", strings.Join(unused, ", "))
	}

	if partner, err := schema.FindPartnerColumn(raw.Headers); err == nil {
		optedIn := 0
		for _, row := range raw.Rows {
			if row[partner].IsTrue() {
				optedIn++
			}
		}
		fmt.Fprintf(out, "\nPartner column: %q (%d of %d rows opted in)\n", partner, optedIn, len(raw.Rows))
	} else {
		fmt.Fprintf(out, "\nPartner column: none (OPT treatment unavailable)\n")
	}
	return nil
}

type historyOptions struct {
	treatment   string
	fingerprint string
	file        string
	limit       int
	ledgerDSN   string
	jsonOut     bool
}

func newHistoryCmd() *cobra.Command {
	opts := historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs from the ledger",
		Long: `List processed files from the run ledger, most recent first.

--file hashes a local file and lists the runs made from those exact bytes, which
tells whether a contest export was already drawn.

Example: tirages history --treatment GAG --file export.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.treatment, "treatment", "t", "", "Only OPT or GAG runs")
	cmd.Flags().StringVar(&opts.fingerprint, "fingerprint", "", "Only runs of this SHA-256 source fingerprint")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Only runs of this file's exact bytes")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of runs")
	cmd.Flags().StringVar(&opts.ledgerDSN, "ledger", "", "Ledger to read (default LEDGER_DSN)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print runs as JSON")

	return cmd
}

func runHistory(ctx context.Context, out io.Writer, opts historyOptions) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}
	dsn := ledgerDSN(opts.ledgerDSN, appConfig)
	if dsn == "" {
		return errors.ConfigInvalid("no run ledger configured, set LEDGER_DSN or pass --ledger")
	}

	q := audit.Query{Limit: opts.limit}
	if opts.treatment != "" {
		if q.Treatment, err = contact.ParseTreatment(opts.treatment); err != nil {
			return errors.InvalidInput(err.Error())
		}
	}
	q.Fingerprint = core.SourceFingerprint(strings.ToLower(strings.TrimSpace(opts.fingerprint)))
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return errors.UnreadableInput(opts.file, err)
		}
		q.Fingerprint = core.NewSourceFingerprint(data)
	}

	store, err := ledger.Open(ctx, dsn, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, q)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		jsonData, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Fprintln(out, string(jsonData))
		return nil
	}

	fmt.Fprintf(out, "\n📜 RUN HISTORY (%d)\n", len(entries))
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	for _, e := range entries {
		status := "✅"
		if e.Failed() {
			status = "❌"
		}
		fmt.Fprintf(out, "\n%s %s  %s  %s\n", status, e.CreatedAt().Format("2006-01-02 15:04:05"), e.Treatment, e.SourceName)
		fmt.Fprintf(out, "   Batch %s, fingerprint %s\n", e.BatchID, core.SourceFingerprint(e.Fingerprint).Short())
		switch {
		case e.Failed():
			fmt.Fprintf(out, "   Error: %s\n", e.ErrorCode)
		case e.Treatment == string(contact.TreatmentGag):
			fmt.Fprintf(out, "   %d rows, quota %d: %d winners, %d reserves, %d excluded\n",
				e.InputRows, e.Quota, e.Winners, e.Reserves, e.Excluded)
		default:
			fmt.Fprintf(out, "   %d rows in, %d kept (%d duplicates, %d excluded)\n",
				e.InputRows, e.OutputRows, e.Duplicates, e.Excluded)
		}
	}
	return nil
}
