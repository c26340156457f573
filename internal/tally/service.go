package tally

// service.go is the review boundary: Stage computes and holds a changeset,
// Confirm applies it in one transaction.
//
// Stage never writes to the store. State may change between Stage and
// Confirm (another upload confirmed in between); Confirm applies the staged
// actions as they are, and a stale delete of a missing entity fails the
// whole confirm rather than applying half of it.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/JonMunkholm/zootally/internal/logging"
)

// DefaultMaxUploadBytes caps the size of an uploaded spreadsheet.
const DefaultMaxUploadBytes = 20 << 20

// UploadArchive keeps a copy of every staged upload for audit.
type UploadArchive interface {
	Put(ctx context.Context, key string, data []byte) error
}

// MetricsRecorder receives pipeline outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ObserveActions(ctx context.Context, kind Kind, summary OpCounts)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) ObserveActions(context.Context, Kind, OpCounts)       {}

// ServiceConfig wires the collaborators of a Service. Store and Staging are
// required; the rest fall back to defaults.
type ServiceConfig struct {
	Store          Store
	Staging        StagingStore
	Archive        UploadArchive   // Optional
	Metrics        MetricsRecorder // Optional
	Limiter        *Limiter        // Optional
	Logger         *slog.Logger    // Optional
	AccessionWidth int
	StageTTL       time.Duration
	MaxUploadBytes int64
	ExportLocation *time.Location
	Now            func() time.Time
}

// Service orchestrates stage, confirm and the read-side operations.
type Service struct {
	store   Store
	staging StagingStore
	archive UploadArchive
	metrics MetricsRecorder
	limiter *Limiter
	logger  *slog.Logger

	width    int
	ttl      time.Duration
	maxBytes int64
	loc      *time.Location
	now      func() time.Time
}

// NewService validates cfg and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("tally: service requires a store")
	}
	if cfg.Staging == nil {
		return nil, errors.New("tally: service requires a staging store")
	}
	s := &Service{
		store:    cfg.Store,
		staging:  cfg.Staging,
		archive:  cfg.Archive,
		metrics:  cfg.Metrics,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		width:    cfg.AccessionWidth,
		ttl:      cfg.StageTTL,
		maxBytes: cfg.MaxUploadBytes,
		loc:      cfg.ExportLocation,
		now:      cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.limiter == nil {
		s.limiter = NewLimiter(0, 0)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.width <= 0 {
		s.width = DefaultAccessionWidth
	}
	if s.ttl <= 0 {
		s.ttl = DefaultStageTTL
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxUploadBytes
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Limiter exposes the service's limiter for health reporting and shutdown.
func (s *Service) Limiter() *Limiter { return s.limiter }

// StagedChangeset is a changeset waiting for confirmation.
type StagedChangeset struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	StagedAt   time.Time `json:"staged_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Summary    Summary   `json:"summary"`
	Changeset  Changeset `json:"changeset"`
}

// StageTable validates t and builds its changeset without writing.
func StageTable(ctx context.Context, repo Repository, t *Table, width int) (*Changeset, error) {
	if err := ValidateTable(t, width); err != nil {
		return nil, err
	}
	return BuildChangeset(ctx, repo, t)
}

// Stage reads an upload, builds its changeset and holds it for Confirm.
func (s *Service) Stage(ctx context.Context, fileName string, r io.Reader) (staged *StagedChangeset, err error) {
	start := time.Now()
	log := logging.Enrich(ctx, s.logger).With("file", fileName)
	defer func() {
		s.metrics.Observe(ctx, "stage", err == nil, time.Since(start))
		if err != nil {
			log.Warn("stage failed", "error", err, "code", MapError(err).Code)
		}
	}()

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, &ValidationError{Code: CodeUnreadable, Message: "could not read upload", Err: err}
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file too large, the limit is %s", humanize.IBytes(uint64(s.maxBytes))),
		}
	}

	t, err := ReadTable(fileName, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	cs, err := StageTable(ctx, s.store, t, s.width)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	staged = &StagedChangeset{
		ID:        uuid.NewString(),
		FileName:  fileName,
		StagedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		Summary:   cs.Summary(),
		Changeset: *cs,
	}

	if s.archive != nil {
		key := archiveKey(staged)
		if err := s.archive.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("archive upload: %w", err)
		}
		staged.ArchiveKey = key
	}

	payload, err := json.Marshal(staged)
	if err != nil {
		return nil, fmt.Errorf("encode staged changeset: %w", err)
	}
	if err := s.staging.Put(ctx, staged.ID, payload, s.ttl); err != nil {
		return nil, fmt.Errorf("hold staged changeset: %w", err)
	}

	log.Info("changeset staged",
		"stage_id", staged.ID,
		"size", humanize.IBytes(uint64(len(data))),
		"rows", len(t.Rows),
		"enclosures", len(cs.Enclosures),
		"animals", staged.Summary.Animals,
		"groups", staged.Summary.Groups,
	)
	return staged, nil
}

func archiveKey(st *StagedChangeset) string {
	return fmt.Sprintf("%s/%s/%s", st.StagedAt.Format("2006/01/02"), st.ID, filepath.Base(st.FileName))
}

// Staged returns a held changeset or ErrStagedNotFound.
func (s *Service) Staged(ctx context.Context, id string) (*StagedChangeset, error) {
	data, err := s.staging.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var st StagedChangeset
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode staged changeset %s: %w", id, err)
	}
	return &st, nil
}

// Confirm applies a staged changeset in one transaction and records it in
// the ingest log. On failure nothing is written and the changeset stays
// staged for another attempt or Discard.
func (s *Service) Confirm(ctx context.Context, id string) (res ApplyResult, err error) {
	start := time.Now()
	log := logging.Enrich(ctx, s.logger).With("stage_id", id)
	defer func() {
		s.metrics.Observe(ctx, "confirm", err == nil, time.Since(start))
		if err != nil {
			log.Error("confirm failed", "error", err, "code", MapError(err).Code)
		}
	}()

	release, err := s.limiter.AcquireApply(ctx)
	if err != nil {
		return res, err
	}
	defer release()

	st, err := s.Staged(ctx, id)
	if err != nil {
		return res, err
	}
	if res, err = s.apply(ctx, st); err != nil {
		return ApplyResult{}, err
	}

	if err := s.staging.Delete(ctx, id); err != nil {
		// Applied already; a second confirm converges to the same state.
		log.Warn("could not drop confirmed changeset", "error", err)
	}
	log.Info("changeset confirmed",
		"ingest_id", res.IngestID,
		"file", st.FileName,
		"animals", res.Summary.Animals,
		"groups", res.Summary.Groups,
		"deactivated", res.Deactivated,
	)
	return res, nil
}

// ApplyStaged applies a changeset that was staged elsewhere, such as one
// written to a file by the CLI. It never touches the staging store.
func (s *Service) ApplyStaged(ctx context.Context, st *StagedChangeset) (res ApplyResult, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "confirm", err == nil, time.Since(start)) }()

	release, err := s.limiter.AcquireApply(ctx)
	if err != nil {
		return res, err
	}
	defer release()
	return s.apply(ctx, st)
}

func (s *Service) apply(ctx context.Context, st *StagedChangeset) (res ApplyResult, err error) {
	rec := IngestRecord{
		ID:         uuid.NewString(),
		FileName:   st.FileName,
		Enclosures: st.Changeset.Enclosures,
		Summary:    st.Changeset.Summary(),
		IPAddress:  IPAddressFromContext(ctx),
		UserAgent:  UserAgentFromContext(ctx),
		ArchiveKey: st.ArchiveKey,
	}
	err = s.store.WithTx(ctx, func(tx Repository) error {
		var applyErr error
		res, applyErr = Apply(ctx, tx, &st.Changeset)
		if applyErr != nil {
			return applyErr
		}
		rec.ConfirmedAt = s.now().UTC()
		if err := tx.RecordIngest(ctx, rec); err != nil {
			return &ApplyError{Stage: StageAudit, Err: err}
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	res.IngestID = rec.ID

	s.metrics.ObserveActions(ctx, KindAnimal, res.Summary.Animals)
	s.metrics.ObserveActions(ctx, KindGroup, res.Summary.Groups)
	return res, nil
}

// Discard drops a staged changeset. Unknown ids return ErrStagedNotFound.
func (s *Service) Discard(ctx context.Context, id string) error {
	if _, err := s.staging.Get(ctx, id); err != nil {
		return err
	}
	if err := s.staging.Delete(ctx, id); err != nil {
		return fmt.Errorf("discard %s: %w", id, err)
	}
	logging.Enrich(ctx, s.logger).Info("changeset discarded", "stage_id", id)
	return nil
}

// History lists the most recent confirmed ingests, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]IngestRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListIngests(ctx, limit)
}

// Export writes the count records selected by f as xlsx.
func (s *Service) Export(ctx context.Context, f ExportFilter, w io.Writer) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "export", err == nil, time.Since(start)) }()

	if err := f.Validate(); err != nil {
		return err
	}
	records, err := s.store.CountRecords(ctx, f)
	if err != nil {
		return fmt.Errorf("load count records: %w", err)
	}
	if len(records) == 0 {
		logging.Enrich(ctx, s.logger).Warn("no data to export", "enclosures", f.Enclosures,
			"start", f.Start.Format(DateLayout), "end", f.End.Format(DateLayout))
		return ErrNoExportData
	}
	return WriteExport(w, records, s.loc)
}
