package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ── Codes and cards ─────────────────────────────────────────

// CreateCode adds a 6-digit code of type otp or static.
func (c *Client) CreateCode(ctx context.Context, sess *Session, code string, ttl time.Duration, codeType string) (*models.AccessCode, error) {
	var resp models.AccessCode
	err := c.do(ctx, http.MethodPost, "/create-code", sess, map[string]any{
		"code":       code,
		"ttlSeconds": int(ttl.Seconds()),
		"type":       codeType,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCode removes an active code.
func (c *Client) DeleteCode(ctx context.Context, sess *Session, code string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, "/delete-code", sess, map[string]string{"code": code}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ListCodes returns the active codes.
func (c *Client) ListCodes(ctx context.Context, sess *Session) ([]models.AccessCode, error) {
	var codes []models.AccessCode
	if err := c.do(ctx, http.MethodGet, "/active-passwords", sess, nil, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// EnrollResult is the outcome of an enroll call. Pending is set when the
// reader was armed; the card id then arrives as an nfc-detected event.
type EnrollResult struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Pending   bool   `json:"pending"`
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

// EnrollCard enrolls id, or arms the reader when id is empty.
func (c *Client) EnrollCard(ctx context.Context, sess *Session, id string) (*EnrollResult, error) {
	var body any
	if id != "" {
		body = map[string]string{"id": id}
	}
	var resp EnrollResult
	if err := c.do(ctx, http.MethodPost, "/enroll", sess, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DisenrollCard removes an enrolled card.
func (c *Client) DisenrollCard(ctx context.Context, sess *Session, id string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, "/disenroll", sess, map[string]string{"id": id}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ListCards returns the enrolled cards.
func (c *Client) ListCards(ctx context.Context, sess *Session) ([]models.NFCCard, error) {
	var cards []models.NFCCard
	if err := c.do(ctx, http.MethodGet, "/active-nfc-cards", sess, nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// UnlockResult names the credential kind that matched.
type UnlockResult struct {
	Method   string  `json:"method"`
	UserName *string `json:"user_name"`
}

// Unlock tries code, which may be a PIN or a card id.
func (c *Client) Unlock(ctx context.Context, sess *Session, code string) (*UnlockResult, error) {
	var resp UnlockResult
	if err := c.do(ctx, http.MethodPost, "/unlock", sess, map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Logs ────────────────────────────────────────────────────

// LogQueryValues encodes q as the query parameters the server reads.
func LogQueryValues(q models.LogQuery) url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	if q.FilterBy != "" && q.FilterValue != "" {
		v.Set("filterBy", q.FilterBy)
		v.Set("filterValue", q.FilterValue)
	}
	if q.Start != nil {
		v.Set("startDate", q.Start.UTC().Format(time.RFC3339))
	}
	if q.End != nil {
		v.Set("endDate", q.End.UTC().Format(time.RFC3339))
	}
	return v
}

func logsPath(base string, q models.LogQuery) string {
	if enc := LogQueryValues(q).Encode(); enc != "" {
		return base + "?" + enc
	}
	return base
}

// ListLogs returns one page of the audit log.
func (c *Client) ListLogs(ctx context.Context, sess *Session, q models.LogQuery) (*models.LogPage, error) {
	var page models.LogPage
	if err := c.do(ctx, http.MethodGet, logsPath("/logs", q), sess, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MyLogs returns one page of the signed-in guest's attempts.
func (c *Client) MyLogs(ctx context.Context, sess *Session, q models.LogQuery) (*models.LogPage, error) {
	var page models.LogPage
	if err := c.do(ctx, http.MethodGet, logsPath("/guest/my-logs", q), sess, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ── Guest accounts ──────────────────────────────────────────

type guestResponse struct {
	Guest *models.Guest `json:"guest"`
}

// ListGuests returns every guest account.
func (c *Client) ListGuests(ctx context.Context, sess *Session) ([]models.Guest, error) {
	var guests []models.Guest
	if err := c.do(ctx, http.MethodGet, "/admin/guests", sess, nil, &guests); err != nil {
		return nil, err
	}
	return guests, nil
}

// ListPendingGuests returns guests awaiting review.
func (c *Client) ListPendingGuests(ctx context.Context, sess *Session) ([]models.Guest, error) {
	var guests []models.Guest
	if err := c.do(ctx, http.MethodGet, "/admin/guests/pending", sess, nil, &guests); err != nil {
		return nil, err
	}
	return guests, nil
}

// ReviewGuest approves or rejects a pending guest.
func (c *Client) ReviewGuest(ctx context.Context, sess *Session, id, action string) (*models.Guest, error) {
	var resp guestResponse
	if err := c.do(ctx, http.MethodPost, "/admin/guests/"+url.PathEscape(id)+"/approve", sess, map[string]string{"action": action}, &resp); err != nil {
		return nil, err
	}
	return resp.Guest, nil
}

// ToggleGuest flips an approved guest's active flag.
func (c *Client) ToggleGuest(ctx context.Context, sess *Session, id string) (*models.Guest, error) {
	var resp guestResponse
	if err := c.do(ctx, http.MethodPost, "/admin/guests/"+url.PathEscape(id)+"/toggle", sess, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Guest, nil
}

// DeleteGuest removes a guest and its requests.
func (c *Client) DeleteGuest(ctx context.Context, sess *Session, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/guests/"+url.PathEscape(id), sess, nil, nil)
}

// AssignPIN sets a guest's PIN; an empty pin asks the server to generate one.
func (c *Client) AssignPIN(ctx context.Context, sess *Session, id, pin string) (string, error) {
	var body any
	if pin != "" {
		body = map[string]string{"pin_code": pin}
	}
	var resp struct {
		PINCode string `json:"pin_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/guests/"+url.PathEscape(id)+"/assign-pin", sess, body, &resp); err != nil {
		return "", err
	}
	return resp.PINCode, nil
}

// ClearPIN removes a guest's PIN.
func (c *Client) ClearPIN(ctx context.Context, sess *Session, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/guests/"+url.PathEscape(id)+"/pin", sess, nil, nil)
}

// ── Access requests ─────────────────────────────────────────

type requestResponse struct {
	Request *models.AccessRequest `json:"request"`
}

// SubmitRequest files an access request. expiresAt wins over hours when set.
func (c *Client) SubmitRequest(ctx context.Context, sess *Session, reason string, hours float64, expiresAt *time.Time) (*models.AccessRequest, error) {
	body := map[string]any{"reason": reason}
	if hours > 0 {
		body["duration_hours"] = hours
	}
	if expiresAt != nil {
		body["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	var resp requestResponse
	if err := c.do(ctx, http.MethodPost, "/guest/request-nfc", sess, body, &resp); err != nil {
		return nil, err
	}
	return resp.Request, nil
}

// MyRequests lists the signed-in guest's requests.
func (c *Client) MyRequests(ctx context.Context, sess *Session) ([]models.AccessRequest, error) {
	var reqs []models.AccessRequest
	if err := c.do(ctx, http.MethodGet, "/guest/my-requests", sess, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListRequests lists every request.
func (c *Client) ListRequests(ctx context.Context, sess *Session) ([]models.AccessRequest, error) {
	var reqs []models.AccessRequest
	if err := c.do(ctx, http.MethodGet, "/admin/nfc-requests", sess, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// RespondInput is an admin decision on a request.
type RespondInput struct {
	Action     string `json:"action"`
	AccessType string `json:"access_type,omitempty"`
	NFCCardID  string `json:"nfc_card_id,omitempty"`
	AdminNotes string `json:"admin_notes,omitempty"`
}

// RespondRequest approves or rejects a pending request.
func (c *Client) RespondRequest(ctx context.Context, sess *Session, id string, in RespondInput) (*models.AccessRequest, error) {
	var resp requestResponse
	if err := c.do(ctx, http.MethodPost, "/admin/nfc-request/"+url.PathEscape(id)+"/respond", sess, in, &resp); err != nil {
		return nil, err
	}
	return resp.Request, nil
}

// ScanNFC arms the reader for a pending request. The captured card id
// arrives as an nfc-detected event; RespondRequest must still be called.
func (c *Client) ScanNFC(ctx context.Context, sess *Session, requestID string) (*EnrollResult, error) {
	var resp EnrollResult
	if err := c.do(ctx, http.MethodPost, "/admin/scan-nfc", sess, map[string]string{"request_id": requestID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health is the server's health report.
type Health struct {
	Status          string `json:"status"`
	DBConnected     bool   `json:"db_connected"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	InfluxConnected bool   `json:"influx_connected"`
	WSClients       int    `json:"ws_clients"`
}

// Health fetches the health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
