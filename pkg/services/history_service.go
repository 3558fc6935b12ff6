package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/repositories"
)

// Export formats.
const (
	ExportJSON = "json"
	ExportCSV  = "csv"
)

// HistoryService records and queries past pipeline runs. Entries are
// append-only apart from the favorite flag.
type HistoryService interface {
	Add(ctx context.Context, entry models.HistoryEntry) (int64, error)
	Get(ctx context.Context, id int64) (*models.HistoryEntry, error)
	RecentN(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	ByConnection(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error)
	Favorites(ctx context.Context) ([]models.HistoryEntry, error)
	// ToggleFavorite flips the flag and returns the new state.
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, term string, limit int) ([]models.HistoryEntry, error)
	DeleteOlderThan(ctx context.Context, days int, keepFavorites bool) (int64, error)
	Export(ctx context.Context, path, format string) (int, error)
	Statistics(ctx context.Context) (*models.HistoryStatistics, error)
}

type historyService struct {
	repo   repositories.QueryHistoryRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewHistoryService wraps a history repository.
func NewHistoryService(repo repositories.QueryHistoryRepository, logger *zap.Logger) HistoryService {
	return &historyService{
		repo:   repo,
		now:    time.Now,
		logger: logger.Named("history-service"),
	}
}

var _ HistoryService = (*historyService)(nil)

func (s *historyService) Add(ctx context.Context, entry models.HistoryEntry) (int64, error) {
	if entry.ConnectionName == "" {
		return 0, fmt.Errorf("%w: connection name is required", apperrors.ErrInvalidInput)
	}
	entry.ID = 0
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	id, err := s.repo.Create(ctx, &entry)
	if err != nil {
		s.logger.Error("Failed to record query history entry",
			zap.String("connection", entry.ConnectionName),
			zap.Error(err))
		return 0, err
	}
	return id, nil
}

func (s *historyService) Get(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	return s.repo.Get(ctx, id)
}

func (s *historyService) RecentN(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	return s.repo.List(ctx, models.HistoryFilter{Limit: limit})
}

func (s *historyService) ByConnection(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: connection name is required", apperrors.ErrInvalidInput)
	}
	return s.repo.List(ctx, models.HistoryFilter{ConnectionName: name, Limit: limit})
}

func (s *historyService) Favorites(ctx context.Context) ([]models.HistoryEntry, error) {
	return s.repo.List(ctx, models.HistoryFilter{FavoritesOnly: true, Limit: repositories.MaxHistoryLimit})
}

func (s *historyService) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	fav, err := s.repo.ToggleFavorite(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Debug("Toggled favorite", zap.Int64("id", id), zap.Bool("favorite", fav))
	return fav, nil
}

func (s *historyService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *historyService) Search(ctx context.Context, term string, limit int) ([]models.HistoryEntry, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("%w: search term is required", apperrors.ErrInvalidInput)
	}
	return s.repo.List(ctx, models.HistoryFilter{Search: term, Limit: limit})
}

// DeleteOlderThan removes entries older than days. Zero days removes
// everything recorded before now.
func (s *historyService) DeleteOlderThan(ctx context.Context, days int, keepFavorites bool) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: days cannot be negative", apperrors.ErrInvalidInput)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff, keepFavorites)
	if err != nil {
		s.logger.Error("Failed to prune query history", zap.Int("days", days), zap.Error(err))
		return 0, err
	}
	return n, nil
}

// Export writes every entry to path and returns how many were written.
func (s *historyService) Export(ctx context.Context, path, format string) (int, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != ExportJSON && format != ExportCSV {
		return 0, fmt.Errorf("%w: unsupported export format %q (want json or csv)", apperrors.ErrInvalidInput, format)
	}
	entries, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	if err := WriteHistory(f, entries, format); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close export file: %w", err)
	}
	s.logger.Info("Exported query history",
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("entries", len(entries)))
	return len(entries), nil
}

var csvHeader = []string{
	"id", "timestamp", "connection_name", "question", "query_text",
	"exec_time_ms", "row_count", "success", "error_message", "favorite", "tags",
}

// WriteHistory encodes entries as an indented JSON array or as CSV with a
// header row. CSV tags are joined with ';'.
func WriteHistory(w io.Writer, entries []models.HistoryEntry, format string) error {
	switch format {
	case ExportJSON:
		if entries == nil {
			entries = []models.HistoryEntry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("failed to encode history as json: %w", err)
		}
		return nil
	case ExportCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		for _, e := range entries {
			record := []string{
				strconv.FormatInt(e.ID, 10),
				e.Timestamp.UTC().Format(time.RFC3339),
				e.ConnectionName,
				e.Question,
				e.QueryText,
				strconv.FormatInt(e.ExecTimeMs, 10),
				strconv.Itoa(e.RowCount),
				strconv.FormatBool(e.Success),
				e.ErrorMessage,
				strconv.FormatBool(e.Favorite),
				strings.Join(e.Tags, ";"),
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("failed to flush csv: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported export format %q", apperrors.ErrInvalidInput, format)
}

func (s *historyService) Statistics(ctx context.Context) (*models.HistoryStatistics, error) {
	return s.repo.Statistics(ctx, s.now())
}
