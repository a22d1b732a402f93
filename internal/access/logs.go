package access

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

const dateLayout = "2006-01-02"

// ParseLogQuery reads page, limit, sortBy, sortOrder, filterBy, filterValue,
// startDate and endDate from query parameters. A date-only endDate covers
// the whole day.
func ParseLogQuery(v url.Values) (models.LogQuery, error) {
	q := models.LogQuery{
		SortBy:      v.Get("sortBy"),
		SortOrder:   v.Get("sortOrder"),
		FilterBy:    v.Get("filterBy"),
		FilterValue: v.Get("filterValue"),
	}

	var err error
	if q.Page, err = parsePositive(v.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.Limit, err = parsePositive(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if q.Start, err = parseBound(v.Get("startDate"), false); err != nil {
		return q, apperr.Validation("startDate: %s", err)
	}
	if q.End, err = parseBound(v.Get("endDate"), true); err != nil {
		return q, apperr.Validation("endDate: %s", err)
	}
	return q, nil
}

// ListLogs returns one page of the audit log.
func (s *Service) ListLogs(ctx context.Context, q models.LogQuery) (*models.LogPage, error) {
	if err := normalizeLogQuery(&q); err != nil {
		return nil, err
	}
	page, err := s.logs.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	return page, nil
}

func normalizeLogQuery(q *models.LogQuery) error {
	if q.SortBy == "" {
		q.SortBy = models.LogSortTime
	}
	if !storage.IsLogSortColumn(q.SortBy) {
		return apperr.Validation("unsupported sortBy %q", q.SortBy)
	}

	switch strings.ToLower(q.SortOrder) {
	case "":
		q.SortOrder = "desc"
	case "asc", "desc":
		q.SortOrder = strings.ToLower(q.SortOrder)
	default:
		return apperr.Validation("sortOrder must be asc or desc")
	}

	if q.FilterValue == "" {
		q.FilterBy = ""
	}
	switch q.FilterBy {
	case "", models.LogFilterMethod, models.LogFilterUserName:
	case models.LogFilterSuccess:
		if _, err := storage.ParseSuccessFilter(q.FilterValue); err != nil {
			return apperr.Validation("filterValue for success must be 1, 0, true or false")
		}
	default:
		return apperr.Validation("unsupported filterBy %q", q.FilterBy)
	}

	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return apperr.Validation("startDate must not be after endDate")
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = storage.DefaultLogLimit
	}
	if q.Limit > storage.MaxLogLimit {
		q.Limit = storage.MaxLogLimit
	}
	return nil
}

func parsePositive(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func parseBound(raw string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		if end {
			t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", raw)
	}
	t = t.UTC()
	return &t, nil
}
