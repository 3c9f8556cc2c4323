package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const entrantsTSV = "Civilité\tNom\tEmail\tCode Postal\n" +
	"Homme\tPASTEUR\tlouis@example.com\t39100\n" +
	"Femme\tcurie\tmarie@example.com\t75 012\n"

const optinTSV = "Civilité\tNom\tEmail\tVille\tPartenaire - Homair\n" +
	"Femme\tcurie\tmarie@example.com\tParis\tTrue\n" +
	"Homme\tsand\tgeorge@example.com\tNohant\tFalse\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessCommandGag(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	t.Setenv("CAMPAIGN_YEAR", "2025")
	input := writeInput(t, dir, "entrants.tsv", entrantsTSV)

	out, err := execute(t, "process", "--treatment", "gag", "--quota", "1", "--out", outDir, "--zip", input)
	require.NoError(t, err)
	assert.Contains(t, out, "GAG BATCH RESULTS")
	assert.Contains(t, out, "1 succeeded, 0 failed")
	assert.Contains(t, out, "1 winners, 1 reserves")

	workbook := filepath.Join(outDir, "GAG FA.FR - GJ 2025 - entrants.xlsx")
	f, err := excelize.OpenFile(workbook)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Gagnants", "Réservistes"}, f.GetSheetList())
	winner, err := f.GetCellValue("Gagnants", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Curie", winner)

	zr, err := zip.OpenReader(filepath.Join(outDir, "GAG FA.FR - GJ 2025.zip"))
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "GAG FA.FR - GJ 2025 - entrants.xlsx", zr.File[0].Name)
}

func TestProcessCommandOptWithPartner(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEMPLATE_OPT_PATH", filepath.Join(dir, "missing.xlsx"))
	input := writeInput(t, dir, "export.xls", optinTSV)

	out, err := execute(t, "process", "-t", "OPT", "--partner", "Homair", "--brand", "CuisineActuelle.fr",
		"--year", "2026", "-o", dir, input)
	require.NoError(t, err)
	assert.Contains(t, out, "default widths")
	assert.Contains(t, out, "2 read, 1 opted in")
	assert.FileExists(t, filepath.Join(dir, "OPT CA.FR - Homair GJ 2026 - export.xlsx"))
}

func TestProcessCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeInput(t, dir, "good.tsv", entrantsTSV)
	bad := writeInput(t, dir, "bad.tsv", "Nom\tVille\nCurie\tParis\n")

	out, err := execute(t, "process", "--treatment", "GAG", "--quota", "2", "--out", dir, bad, good)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 file(s) failed")
	assert.Contains(t, out, "❌ bad.tsv")
	assert.Contains(t, out, "MISSING_COLUMN")
	assert.FileExists(t, filepath.Join(dir, "GAG FA.FR - GJ 2025 - good.xlsx"))
}

func TestProcessCommandJSON(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "entrants.tsv", entrantsTSV)

	out, err := execute(t, "process", "--treatment", "GAG", "--quota", "1", "--out", dir, "--json", input)
	require.NoError(t, err)
	assert.Contains(t, out, `"treatment": "GAG"`)
	assert.Contains(t, out, `"Gagnants": 1`)
	assert.Contains(t, out, `"eligible": 2`)
}

func TestProcessCommandRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "entrants.tsv", entrantsTSV)

	tests := []struct {
		name string
		args []string
	}{
		{"missing treatment", []string{"process", input}},
		{"unknown treatment", []string{"process", "--treatment", "XYZ", input}},
		{"zero quota", []string{"process", "--treatment", "GAG", "--quota", "0", "--out", dir, input}},
		{"unknown brand", []string{"process", "--treatment", "GAG", "--brand", "Elle.fr", "--out", dir, input}},
		{"no files", []string{"process", "--treatment", "GAG"}},
		{"missing file", []string{"process", "--treatment", "GAG", "--out", dir, filepath.Join(dir, "nope.tsv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "inspect", writeInput(t, dir, "optin.tsv", optinTSV))
	require.NoError(t, err)
	assert.Contains(t, out, "Columns: 5, Rows: 2")
	assert.Contains(t, out, `"Civilité"`)
	assert.Contains(t, out, "(not found)")
	assert.Contains(t, out, `Partner column: "Partenaire - Homair" (1 of 2 rows opted in)`)

	out, err = execute(t, "inspect", writeInput(t, dir, "entrants.tsv", entrantsTSV))
	require.NoError(t, err)
	assert.Contains(t, out, "Partner column: none")
}

func TestInspectCommandUnreadable(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "inspect", writeInput(t, dir, "empty.tsv", ""))
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEDGER_DSN", "")
	dsn := "sqlite:" + filepath.Join(dir, "runs.db")
	input := writeInput(t, dir, "entrants.tsv", entrantsTSV)
	other := writeInput(t, dir, "other.tsv", entrantsTSV+"Femme\tsand\tgeorge@example.com\t36400\n")

	_, err := execute(t, "process", "--treatment", "GAG", "--quota", "1", "--out", dir, "--ledger", dsn, input)
	require.NoError(t, err)
	out, err := execute(t, "process", "--treatment", "GAG", "--quota", "1", "--out", dir, "--ledger", dsn, input, other)
	require.NoError(t, err)
	assert.Contains(t, out, "already drawn 1 time(s)")

	out, err = execute(t, "history", "--ledger", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN HISTORY (3)")
	assert.Contains(t, out, "quota 1: 1 winners")

	out, err = execute(t, "history", "--ledger", dsn, "--file", input, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"source_name": "entrants.tsv"`)
	assert.NotContains(t, out, "other.tsv")

	out, err = execute(t, "history", "--ledger", dsn, "--treatment", "OPT")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistoryCommandWithoutLedger(t *testing.T) {
	t.Setenv("LEDGER_DSN", "")
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_DSN")
}
