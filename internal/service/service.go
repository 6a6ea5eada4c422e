package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/internal/repository"
	"github.com/glekoz/chipdash/internal/service/pdf"
	"github.com/glekoz/chipdash/pkg/logger"
)

type RepoAPI interface {
	ListLogs(ctx context.Context) ([]models.LogRecord, error)
	GetLog(ctx context.Context, key models.RecordKey) (models.LogRecord, error)
	UpsertLog(ctx context.Context, rec models.LogRecord) error
	UpsertLogs(ctx context.Context, recs []models.LogRecord) error
	DeleteLog(ctx context.Context, key models.RecordKey) error
	ListNames(ctx context.Context) ([]models.NameEntry, error)
	GetName(ctx context.Context, chipID string) (string, error)
	UpsertName(ctx context.Context, chipID, name string) error
}

type Service struct {
	repo   RepoAPI
	loc    *time.Location
	logger *slog.Logger
}

func New(repo RepoAPI, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, logger: logger}
}

func (s *Service) ListLogs(ctx context.Context) ([]models.LogRecord, error) {
	records, err := s.repo.ListLogs(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list logs failed", slog.String("error", err.Error()))
		return nil, err
	}
	return records, nil
}

// IngestLog stores one record sent by a device. A record with the same
// chip_id and timestamp is overwritten.
func (s *Service) IngestLog(ctx context.Context, rec models.LogRecord) error {
	if strings.TrimSpace(rec.ChipID) == "" {
		return ErrEmptyChipID
	}
	ctx = logger.WithRecord(ctx, rec.ChipID, rec.Timestamp)
	if err := s.repo.UpsertLog(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "ingest log failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// IngestLogs stores a batch. Nothing is written if any record lacks a chip_id.
func (s *Service) IngestLogs(ctx context.Context, recs []models.LogRecord) (int, error) {
	for _, rec := range recs {
		if strings.TrimSpace(rec.ChipID) == "" {
			return 0, ErrEmptyChipID
		}
	}
	if err := s.repo.UpsertLogs(ctx, recs); err != nil {
		s.logger.ErrorContext(ctx, "ingest batch failed", slog.Int("records", len(recs)), slog.String("error", err.Error()))
		return 0, err
	}
	s.logger.InfoContext(ctx, "batch ingested", slog.Int("records", len(recs)))
	return len(recs), nil
}

func (s *Service) DeleteLog(ctx context.Context, key models.RecordKey) error {
	if key.ChipID == "" {
		return ErrEmptyChipID
	}
	ctx = logger.WithRecord(ctx, key.ChipID, key.Timestamp)
	if err := s.repo.DeleteLog(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		s.logger.ErrorContext(ctx, "delete log failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.InfoContext(ctx, "log deleted")
	return nil
}

func (s *Service) ListNames(ctx context.Context) ([]models.NameEntry, error) {
	names, err := s.repo.ListNames(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list names failed", slog.String("error", err.Error()))
		return nil, err
	}
	return names, nil
}

func (s *Service) SetName(ctx context.Context, chipID, name string) error {
	chipID = strings.TrimSpace(chipID)
	name = strings.TrimSpace(name)
	if chipID == "" {
		return ErrEmptyChipID
	}
	if name == "" {
		return ErrEmptyName
	}
	ctx = logger.WithChip(ctx, chipID)
	if err := s.repo.UpsertName(ctx, chipID, name); err != nil {
		s.logger.ErrorContext(ctx, "set name failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.InfoContext(ctx, "name set", slog.String("name", name))
	return nil
}

// ExportPDF renders the report for one record.
func (s *Service) ExportPDF(ctx context.Context, key models.RecordKey) (models.Artifact, error) {
	if key.ChipID == "" {
		return models.Artifact{}, ErrEmptyChipID
	}
	ctx = logger.WithRecord(ctx, key.ChipID, key.Timestamp)

	rec, err := s.repo.GetLog(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Artifact{}, ErrNotFound
		}
		s.logger.ErrorContext(ctx, "get log failed", slog.String("error", err.Error()))
		return models.Artifact{}, err
	}

	// a missing name only drops it from the title
	name, err := s.repo.GetName(ctx, key.ChipID)
	if err != nil {
		s.logger.WarnContext(ctx, "get name failed", slog.String("error", err.Error()))
		name = ""
	}

	data, err := pdf.Render(pdf.Report{
		ChipID:     rec.ChipID,
		DeviceName: name,
		Time:       time.UnixMilli(rec.Timestamp).In(s.loc),
		Fields:     rec.Fields,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "render pdf failed", slog.String("error", err.Error()))
		return models.Artifact{}, err
	}

	return models.Artifact{
		Filename:    models.DefaultExportFilename(key),
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}
