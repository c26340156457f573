package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/zootally/internal/tally"
)

const censusCSV = "Enclosure,Accession,Common,Class,Order,Family,GSS,Species,Sex,Identifiers,Population _Male,Population _Female,Population _Unknown\n" +
	`Savanna,111111,Lion,Mammalia,Carnivora,Felidae,Panthera,leo,F,"Tag/Band:A1, Internal House Name:Nala",0,1,0` + "\n" +
	`Savanna,111112,Meerkat,Mammalia,Carnivora,Herpestidae,Suricata,suricatta,,,3,2,0` + "\n"

// run executes the CLI against a SQLite database in dir.
func run(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, dir, strings.NewReader(stdin), args...)
}

func runWithInput(t *testing.T, dir string, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ARCHIVE_DRIVER", "none")

	cmd := getRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(stdin)
	cmd.SetArgs(append([]string{"--db", "sqlite:" + filepath.Join(dir, "zoo.db")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeCensus(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "census.csv")
	require.NoError(t, os.WriteFile(path, []byte(censusCSV), 0o644))
	return path
}

func TestGetRootCmd_Exists(t *testing.T) {
	cmd := getRootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "tally", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"migrate", "stage", "apply", "ingest", "export", "history"} {
		assert.Contains(t, names, want)
	}
}

func TestGetRootCmd_Version(t *testing.T) {
	cmd := getRootCmd()
	cmd.Version = "v1.2.3"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-V"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "v1.2.3")
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
}

func TestStageThenApply(t *testing.T) {
	dir := t.TempDir()
	census := writeCensus(t, dir)
	changes := filepath.Join(dir, "changes.json")

	out, err := run(t, dir, "", "stage", census, "-o", changes, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Savanna")
	assert.Contains(t, out, "111112")
	assert.Contains(t, out, "Changeset written to")

	data, err := os.ReadFile(changes)
	require.NoError(t, err)
	var staged tally.StagedChangeset
	require.NoError(t, json.Unmarshal(data, &staged))
	assert.Equal(t, "census.csv", staged.FileName)
	assert.Equal(t, 1, staged.Summary.Animals.Add)
	assert.Equal(t, 1, staged.Summary.Groups.Add)

	out, err = run(t, dir, "", "apply", changes)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 actions")

	// Staging again now finds both entities and only updates them.
	out, err = run(t, dir, "", "stage", census, "-o", changes)
	require.NoError(t, err)
	data, err = os.ReadFile(changes)
	require.NoError(t, err)
	staged = tally.StagedChangeset{}
	require.NoError(t, json.Unmarshal(data, &staged))
	assert.Equal(t, tally.OpCounts{Update: 1}, staged.Summary.Animals, out)
	assert.Equal(t, tally.OpCounts{Update: 1}, staged.Summary.Groups)

	out, err = run(t, dir, "", "history", "--json")
	require.NoError(t, err)
	var records []tally.IngestRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, []string{"Savanna"}, records[0].Enclosures)
}

func TestIngest_Prompt(t *testing.T) {
	dir := t.TempDir()
	census := writeCensus(t, dir)

	out, err := run(t, dir, "n\n", "ingest", census)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")

	out, err = run(t, dir, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No confirmed ingests.")

	out, err = run(t, dir, "yes\n", "ingest", census)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 actions")

	out, err = run(t, dir, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "census.csv")
	assert.Contains(t, out, "1/0/0")
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("terminal went away") }

func TestIngest_PromptReadError(t *testing.T) {
	dir := t.TempDir()
	census := writeCensus(t, dir)

	out, err := runWithInput(t, dir, brokenReader{}, "ingest", census)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal went away")
	assert.NotContains(t, out, "Cancelled")

	out, err = run(t, dir, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No confirmed ingests.")
}

func TestIngest_ValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("Enclosure,Accession\nSavanna,111111\n"), 0o644))

	_, err := run(t, dir, "", "ingest", "--yes", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, tally.ErrMissingColumns)
	assert.Contains(t, tally.FormatUserError(err), "VAL002")
}

func TestExport_NoData(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "export", "-e", "Savanna", "--start", "2024-01-01", "--end", "2024-01-31",
		"-o", filepath.Join(dir, "out.xlsx"))
	assert.ErrorIs(t, err, tally.ErrNoExportData)

	_, err = run(t, dir, "", "export", "-e", "Savanna", "--start", "01/01/2024", "--end", "2024-01-31")
	assert.Error(t, err)
}
