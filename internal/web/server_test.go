package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/zootally/internal/config"
	"github.com/JonMunkholm/zootally/internal/store/sqlite"
	"github.com/JonMunkholm/zootally/internal/tally"
)

const censusHeader = "Enclosure,Accession,Common,Class,Order,Family,GSS,Species,Sex,Identifiers,Population _Male,Population _Female,Population _Unknown\n"

const census = censusHeader +
	`Savanna,111111,Lion,Mammalia,Carnivora,Felidae,Panthera,leo,M,"Tag/Band:A1, Internal House Name:Leo",1,0,0` + "\n" +
	`Savanna,111112,Meerkat,Mammalia,Carnivora,Herpestidae,Suricata,suricatta,,,3,2,0` + "\n"

type testEnv struct {
	server *Server
	store  *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "zoo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Ingest: config.IngestConfig{AccessionWidth: 6, MaxFileSize: 1 << 20},
	}
	svc, err := tally.NewService(tally.ServiceConfig{
		Store:          st,
		Staging:        tally.NewMemoryStaging(),
		AccessionWidth: cfg.Ingest.AccessionWidth,
		MaxUploadBytes: cfg.Ingest.MaxFileSize,
		ExportLocation: time.UTC,
	})
	require.NoError(t, err)

	srv := NewServer(svc, cfg, Options{Pinger: st})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, store: st}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStageConfirmFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "census.csv", census))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	staged := decode[tally.StagedChangeset](t, rec)
	assert.NotEmpty(t, staged.ID)
	assert.Equal(t, "census.csv", staged.FileName)
	assert.Equal(t, tally.OpCounts{Add: 1}, staged.Summary.Animals)
	assert.Equal(t, tally.OpCounts{Add: 1}, staged.Summary.Groups)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/"+staged.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	review := decode[tally.StagedChangeset](t, rec)
	require.Len(t, review.Changeset.Animals, 1)
	assert.Equal(t, tally.OpAdd, review.Changeset.Animals[0].Op())

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/ingest/"+staged.ID+"/confirm", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[tally.ApplyResult](t, rec)
	assert.NotEmpty(t, res.IngestID)
	assert.Equal(t, 2, res.SpeciesUpserted)

	// Confirmed changesets leave staging.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/"+staged.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[struct {
		Ingests []tally.IngestRecord `json:"ingests"`
	}](t, rec)
	require.Len(t, hist.Ingests, 1)
	assert.Equal(t, res.IngestID, hist.Ingests[0].ID)
	assert.Equal(t, []string{"Savanna"}, hist.Ingests[0].Enclosures)
	assert.NotEmpty(t, hist.Ingests[0].IPAddress)
}

func TestStage_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "census.csv", "Enclosure,Accession\nSavanna,111111\n"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "VAL002", resp.Code)
	require.NotNil(t, resp.Details)
	assert.Equal(t, string(tally.CodeMissingColumns), resp.Details.Reason)
	assert.Contains(t, resp.Details.Values, tally.ColCommon)
}

func TestStage_BadAccessionLines(t *testing.T) {
	env := newTestEnv(t)

	body := censusHeader + "Savanna,12345,Lion,,,,,,M,,1,0,0\n"
	rec := env.do(t, uploadRequest(t, "census.csv", body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "VAL003", resp.Code)
	assert.Equal(t, []int{2}, resp.Details.Lines)
}

func TestStage_NoFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	require.NoError(t, mpw.WriteField("note", "x"))
	require.NoError(t, mpw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "census.csv", census))
	require.Equal(t, http.StatusCreated, rec.Code)
	staged := decode[tally.StagedChangeset](t, rec)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/ingest/"+staged.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/ingest/"+staged.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ING001", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/ingest/"+staged.ID+"/confirm", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, uploadRequest(t, "census.csv", census))
	require.Equal(t, http.StatusCreated, rec.Code)
	staged := decode[tally.StagedChangeset](t, rec)
	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/ingest/"+staged.ID+"/confirm", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/export?enclosure=Savanna&start=2024-03-01&end=2024-03-31", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ING003", decode[ErrorResponse](t, rec).Code)

	require.NoError(t, env.store.SeedCount(ctx, sqlite.CountSeed{
		Kind:      tally.CountAnimal,
		Accession: "111111",
		Enclosure: "Savanna",
		CountedAt: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC),
		CountedBy: "keeper",
		Condition: "BAR",
	}))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/export?enclosure=Savanna&start=2024-03-01&end=2024-03-31", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "zootally_export_savanna_20240301_20240331.xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestExport_BadFilter(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{
		"start=2024-03-01&end=2024-03-31",
		"enclosure=Savanna&end=2024-03-31",
		"enclosure=Savanna&start=03/01/2024&end=2024-03-31",
		"enclosure=Savanna&start=2024-03-31&end=2024-03-01",
	} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/export?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestParseExportFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/export?enclosure=A,B&enclosure=C&start=2024-01-01&end=2024-01-02", nil)
	f, err := parseExportFilter(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, f.Enclosures)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), f.End)
}

func TestColumns(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/columns", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Columns        []ColumnInfo `json:"columns"`
		AccessionWidth int          `json:"accession_width"`
	}](t, rec)
	assert.Len(t, body.Columns, len(tally.TrackColumns))
	assert.Equal(t, 6, body.AccessionWidth)
	assert.Equal(t, ColumnInfo{Name: tally.ColAccession, Type: "text", Required: true}, body.Columns[1])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	require.NoError(t, env.store.Close())
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&tally.ValidationError{Code: tally.CodeNoData}, http.StatusUnprocessableEntity},
		{&tally.ValidationError{Code: tally.CodeFileTooLarge}, http.StatusRequestEntityTooLarge},
		{tally.ErrStagedNotFound, http.StatusNotFound},
		{tally.ErrTooManyIngests, http.StatusServiceUnavailable},
		{&tally.ApplyError{Stage: tally.StageDeletes, Err: tally.ErrNotFound}, http.StatusConflict},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRateLimiter(t *testing.T) {
	s := &Server{}
	rl := s.newRateLimiter(2, time.Minute)
	defer rl.stop()

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
