package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"coop-settlement/internal/domain"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	maxImportRows   = 10_000
	importChunkSize = 50
	importSheet     = "Settlements"
)

var ErrInvalidImport = errors.New("invalid import file")

type Settler interface {
	Settle(ctx context.Context, orderID string) (*domain.SettlementResult, error)
}

type ImportStatusStore interface {
	SaveImportStatus(ctx context.Context, st *ImportStatus) error
	GetImportStatus(ctx context.Context, id string) (*ImportStatus, error)
	ListImportStatuses(ctx context.Context) ([]*ImportStatus, error)
}

type ReportStore interface {
	DocumentStore
	DocumentURL(ctx context.Context, key string) (string, error)
}

type ImportNotifier interface {
	NotifyImportProgress(ctx context.Context, userRef, importID string, progress float64, stage string) error
	NotifyImportComplete(ctx context.Context, userRef, importID, url string) error
	NotifyImportFailed(ctx context.Context, userRef, importID, errMsg string) error
}

type ImportStatus struct {
	Key              string    `json:"key"`
	UserRef          string    `json:"user_ref"`
	Total            int       `json:"total"`
	Processed        int       `json:"processed"`
	Settled          int       `json:"settled"`
	AlreadyProcessed int       `json:"already_processed"`
	Failed           int       `json:"failed"`
	Progress         float64   `json:"progress"`
	FileURL          *string   `json:"file_url"`
	Error            *string   `json:"error,omitempty"`
	Created          time.Time `json:"created_at"`
}

type ImportOutcome string

const (
	OutcomeSettled          ImportOutcome = "settled"
	OutcomeAlreadyProcessed ImportOutcome = "already_processed"
	OutcomeFailed           ImportOutcome = "failed"
)

type ImportRow struct {
	OrderID string
	Outcome ImportOutcome
	Result  *domain.SettlementResult
	Detail  string
}

// ImportService settles a batch of confirmed payments listed in an XLSX sheet
// and publishes a per-row report once the batch is done.
type ImportService struct {
	settler  Settler
	statuses ImportStatusStore
	reports  ReportStore
	notifier ImportNotifier
	now      func() time.Time
}

func NewImportService(settler Settler, statuses ImportStatusStore, reports ReportStore, notifier ImportNotifier) *ImportService {
	return &ImportService{settler: settler, statuses: statuses, reports: reports, notifier: notifier, now: time.Now}
}

// ParseOrderIDs reads the first sheet of an XLSX workbook and returns the
// values of its order_id column in row order, without blanks or repeats.
func ParseOrderIDs(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", ErrInvalidImport)
	}

	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), "order_id") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: order_id column not found", ErrInvalidImport)
	}

	seen := map[string]bool{}
	var ids []string
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[col])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no order ids", ErrInvalidImport)
	}
	if len(ids) > maxImportRows {
		return nil, fmt.Errorf("%w: too many rows (more than %d)", ErrInvalidImport, maxImportRows)
	}
	return ids, nil
}

func (s *ImportService) StartImport(ctx context.Context, userRef string, data []byte) (string, error) {
	ids, err := ParseOrderIDs(data)
	if err != nil {
		return "", err
	}

	status := &ImportStatus{
		Key:     fmt.Sprintf("imports:%s", uuid.NewString()),
		UserRef: userRef,
		Total:   len(ids),
		Created: s.now(),
	}
	if err := s.saveStatus(ctx, status); err != nil {
		return "", fmt.Errorf("save import status: %w", err)
	}

	log.Printf("[IMPORT] %s queued with %d payments", status.Key, len(ids))
	go s.runImport(context.Background(), status, ids)

	return status.Key, nil
}

func (s *ImportService) GetImport(ctx context.Context, importID, userRef string) (*ImportStatus, error) {
	if s.statuses == nil {
		return nil, errors.New("import status store not configured")
	}
	st, err := s.statuses.GetImportStatus(ctx, importID)
	if err != nil {
		return nil, err
	}
	if userRef != "" && st.UserRef != userRef {
		return nil, domain.ErrNotFound
	}
	return st, nil
}

// ListImports returns the imports started by userRef, newest first. An empty
// userRef lists every import.
func (s *ImportService) ListImports(ctx context.Context, userRef string) ([]*ImportStatus, error) {
	if s.statuses == nil {
		return nil, errors.New("import status store not configured")
	}
	all, err := s.statuses.ListImportStatuses(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*ImportStatus, 0, len(all))
	for _, st := range all {
		if userRef == "" || st.UserRef == userRef {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

func (s *ImportService) runImport(ctx context.Context, status *ImportStatus, ids []string) []ImportRow {
	rows := make([]ImportRow, 0, len(ids))

	for i, id := range ids {
		row := ImportRow{OrderID: id}
		res, err := s.settler.Settle(ctx, id)
		switch {
		case err != nil:
			row.Outcome = OutcomeFailed
			row.Detail = err.Error()
			status.Failed++
		case res.AlreadyProcessed:
			row.Outcome = OutcomeAlreadyProcessed
			row.Result = res
			status.AlreadyProcessed++
		default:
			row.Outcome = OutcomeSettled
			row.Result = res
			row.Detail = strings.Join(res.Warnings, "; ")
			status.Settled++
		}
		rows = append(rows, row)
		status.Processed = i + 1

		if (i+1)%importChunkSize == 0 || i == len(ids)-1 {
			progress := math.Round(float64(i+1) / float64(len(ids)) * 100)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			s.publishProgress(ctx, status, "settling")
		}
	}

	data, err := buildImportReport(rows)
	if err == nil {
		err = s.publishReport(ctx, status, data)
	}
	if err != nil {
		msg := fmt.Sprintf("import report failed: %v", err)
		log.Printf("[IMPORT] %s: %s", status.Key, msg)
		status.Error = &msg
		status.Progress = 100
		_ = s.saveStatus(ctx, status)
		if s.notifier != nil {
			_ = s.notifier.NotifyImportFailed(ctx, status.UserRef, status.Key, msg)
		}
		return rows
	}

	log.Printf("[IMPORT] %s done: settled=%d already=%d failed=%d",
		status.Key, status.Settled, status.AlreadyProcessed, status.Failed)
	return rows
}

func (s *ImportService) publishReport(ctx context.Context, status *ImportStatus, data []byte) error {
	status.Progress = 100
	if s.reports == nil {
		return s.saveStatus(ctx, status)
	}

	fileName := fmt.Sprintf("settlement_import_%s.xlsx", s.now().Format("20060102_150405"))
	key, err := s.reports.SaveDocument(ctx, fileName, data)
	if err != nil {
		return err
	}
	url, err := s.reports.DocumentURL(ctx, key)
	if err != nil {
		return err
	}
	status.FileURL = &url
	if err := s.saveStatus(ctx, status); err != nil {
		log.Printf("[IMPORT] %s: save status failed: %v", status.Key, err)
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyImportProgress(ctx, status.UserRef, status.Key, 100, "ready")
		_ = s.notifier.NotifyImportComplete(ctx, status.UserRef, status.Key, url)
	}
	return nil
}

func (s *ImportService) publishProgress(ctx context.Context, status *ImportStatus, stage string) {
	if err := s.saveStatus(ctx, status); err != nil {
		log.Printf("[IMPORT] %s: save status failed: %v", status.Key, err)
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyImportProgress(ctx, status.UserRef, status.Key, status.Progress, stage)
	}
}

func (s *ImportService) saveStatus(ctx context.Context, st *ImportStatus) error {
	if s.statuses == nil {
		return nil
	}
	return s.statuses.SaveImportStatus(ctx, st)
}

var importReportHeaders = []string{"Order ID", "Outcome", "Asset created", "Next installment", "Commission", "Stamp", "Detail"}

func buildImportReport(rows []ImportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), importSheet); err != nil {
		return nil, err
	}

	for i, h := range importReportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(importSheet, cell, h)
	}

	for r, row := range rows {
		values := []any{row.OrderID, string(row.Outcome), "", "", "", "", row.Detail}
		if res := row.Result; res != nil {
			values[2] = res.AssetCreated
			values[3] = optional(res.NextInstallmentID)
			values[4] = optional(res.CommissionID)
			values[5] = optional(res.StampRef)
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(importSheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
