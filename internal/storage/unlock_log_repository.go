package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Page size bounds for log listing.
const (
	DefaultLogLimit = 20
	MaxLogLimit     = 200
)

// logSortColumns maps accepted sort keys to SQL expressions.
var logSortColumns = map[string]string{
	models.LogSortTime:     "time_ms",
	models.LogSortDate:     "time_ms",
	models.LogSortUserName: "COALESCE(user_name, '') COLLATE NOCASE",
	models.LogSortMethod:   "method",
	models.LogSortSuccess:  "success",
}

// IsLogSortColumn reports whether key is an accepted sort key.
func IsLogSortColumn(key string) bool {
	_, ok := logSortColumns[key]
	return ok
}

// UnlockLogRepository handles the append-only unlock audit log.
type UnlockLogRepository struct {
	db *DB
}

// NewUnlockLogRepository creates a new unlock log repository.
func NewUnlockLogRepository(db *DB) *UnlockLogRepository {
	return &UnlockLogRepository{db: db}
}

// Append writes entry and sets its ID.
func (r *UnlockLogRepository) Append(ctx context.Context, entry *models.UnlockLog) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO unlock_logs (method, code, time_ms, success, user_id, user_name)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Method, entry.Code, toMillis(entry.Time), entry.Success,
		nullString(entry.UserID), nullString(entry.UserName))
	if err != nil {
		return fmt.Errorf("inserting unlock log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading unlock log id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns one page of logs. The query must already be validated;
// unknown sort or filter keys are rejected here as a last guard.
//
// The page and the filtered total come from one statement, so both describe
// the same snapshot. Ties on the sort column are broken by id in the same
// direction, which keeps repeated fetches identical.
func (r *UnlockLogRepository) List(ctx context.Context, q models.LogQuery) (*models.LogPage, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	sortExpr, ok := logSortColumns[q.SortBy]
	if !ok {
		return nil, fmt.Errorf("unknown sort column %q", q.SortBy)
	}
	dir := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		dir = "ASC"
	}

	where, args, err := buildLogFilter(q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, method, code, time_ms, success, user_id, user_name, COUNT(*) OVER () AS total
		FROM unlock_logs %s
		ORDER BY %s %s, id %s
		LIMIT ? OFFSET ?
	`, where, sortExpr, dir, dir)
	pageArgs := append(append([]any{}, args...), q.Limit, (q.Page-1)*q.Limit)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying unlock logs: %w", err)
	}
	defer rows.Close()

	page := &models.LogPage{Logs: []models.UnlockLog{}, Page: q.Page, Limit: q.Limit}
	for rows.Next() {
		var (
			entry          models.UnlockLog
			timeMs         int64
			userID, userNm sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Method, &entry.Code, &timeMs, &entry.Success,
			&userID, &userNm, &page.Total); err != nil {
			return nil, fmt.Errorf("scanning unlock log: %w", err)
		}
		entry.Time = fromMillis(timeMs)
		entry.UserID = fromNullString(userID)
		entry.UserName = fromNullString(userNm)
		page.Logs = append(page.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unlock logs: %w", err)
	}

	// A page past the end carries no window total.
	if len(page.Logs) == 0 {
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM unlock_logs %s", where)
		if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
			return nil, fmt.Errorf("counting unlock logs: %w", err)
		}
	}

	return page, nil
}

func buildLogFilter(q models.LogQuery) (string, []any, error) {
	var conditions []string
	var args []any

	switch q.FilterBy {
	case "":
	case models.LogFilterMethod:
		conditions = append(conditions, "method = ?")
		args = append(args, q.FilterValue)
	case models.LogFilterUserName:
		conditions = append(conditions, `user_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q.FilterValue)+"%")
	case models.LogFilterSuccess:
		v, err := ParseSuccessFilter(q.FilterValue)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, "success = ?")
		args = append(args, v)
	default:
		return "", nil, fmt.Errorf("unknown filter %q", q.FilterBy)
	}

	if q.Start != nil {
		conditions = append(conditions, "time_ms >= ?")
		args = append(args, toMillis(*q.Start))
	}
	if q.End != nil {
		conditions = append(conditions, "time_ms <= ?")
		args = append(args, toMillis(*q.End))
	}
	if q.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, q.UserID)
	}

	if len(conditions) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// ParseSuccessFilter accepts 1/0/true/false.
func ParseSuccessFilter(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid success filter %q", v)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
