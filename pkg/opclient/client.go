// Package opclient is a Go client for the outpatient API. It owns the
// staff session, maps failures onto the server's error kinds and keeps
// department queues fresh from invalidation events.
package opclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// ErrUnauthorized is returned after the server rejected the session. The
// local session has already been cleared.
var ErrUnauthorized = errors.New("session expired, please log in again")

// ErrNoSession is returned by calls that need a signed-in session.
var ErrNoSession = errors.New("not logged in")

// APIError is a request the server answered with success=false.
type APIError struct {
	Status int
	Kind   apperr.Kind
	Msg    string
	Fields map[string]string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Msg
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 reply.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type envelope struct {
	Success bool              `json:"success"`
	Msg     string            `json:"msg"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

// Client calls the REST API on behalf of one session.
type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, session *Session, httpClient *http.Client) *Client {
	if session == nil {
		session = NewSession(nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: session,
	}
}

func (c *Client) Session() *Session { return c.session }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.session.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{
			Status: resp.StatusCode,
			Kind:   apperr.KindForStatus(resp.StatusCode),
			Msg:    env.Msg,
			Fields: env.Errors,
		}
		// A rejected token ends the session; a failed login never had one.
		if resp.StatusCode == http.StatusUnauthorized && token != "" {
			if err := c.session.Clear(); err != nil {
				log.Warn().Err(err).Msg("opclient: clear session")
			}
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Login signs in and persists the session.
func (c *Client) Login(ctx context.Context, username, password string) (*SessionState, error) {
	var state SessionState
	if err := c.do(ctx, http.MethodPost, "/auth/login", models.LoginInput{Username: username, Password: password}, &state); err != nil {
		return nil, err
	}
	if err := c.session.set(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Logout revokes the token on the server and always clears the local
// session.
func (c *Client) Logout(ctx context.Context) error {
	if c.session.token() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	if clearErr := c.session.Clear(); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.authed(ctx, http.MethodGet, "/auth/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// authed fails fast without a session.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	if c.session.token() == "" {
		return ErrNoSession
	}
	return c.do(ctx, method, path, body, out)
}

// DoctorQueueItem is one row of the doctor dashboard.
type DoctorQueueItem struct {
	Visit       models.Visit `json:"visit"`
	StatusLabel string       `json:"statusLabel"`
}

func (c *Client) DoctorQueue(ctx context.Context) ([]DoctorQueueItem, error) {
	var items []DoctorQueueItem
	if err := c.authed(ctx, http.MethodGet, "/doctor/registered-ops", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) LabQueue(ctx context.Context) ([]services.LabQueueItem, error) {
	var items []services.LabQueueItem
	if err := c.authed(ctx, http.MethodGet, "/lab/queue", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) PharmacyQueue(ctx context.Context) ([]services.PharmacyQueueItem, error) {
	var items []services.PharmacyQueueItem
	if err := c.authed(ctx, http.MethodGet, "/pharmacy/queue", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) PendingApprovals(ctx context.Context) ([]models.PendingRegistration, error) {
	var items []models.PendingRegistration
	if err := c.authed(ctx, http.MethodGet, "/op/pending-approvals", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Medicines(ctx context.Context) ([]models.Medicine, error) {
	var items []models.Medicine
	if err := c.authed(ctx, http.MethodGet, "/office/medicines", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ApprovePatient(ctx context.Context, aadhar string) (*services.ApprovalResult, error) {
	var res services.ApprovalResult
	if err := c.authed(ctx, http.MethodPost, "/op/approve-patient/"+aadhar, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CreateVisit(ctx context.Context, in models.CreateVisitInput) (*models.Visit, error) {
	var v models.Visit
	if err := c.authed(ctx, http.MethodPost, "/op/create-visit", in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) CompleteConsultation(ctx context.Context, visitID uint64, in models.ConsultationInput) (*models.Visit, error) {
	var v models.Visit
	if err := c.authed(ctx, http.MethodPost, fmt.Sprintf("/doctor/complete-consultation/%d", visitID), in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) PostLabReview(ctx context.Context, visitID uint64, in models.PostLabReviewInput) (*models.Visit, error) {
	var v models.Visit
	if err := c.authed(ctx, http.MethodPost, fmt.Sprintf("/doctor/post-lab-review/%d", visitID), in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) UploadReport(ctx context.Context, orderedLabTestID uint64, reportURL string) error {
	return c.authed(ctx, http.MethodPost, fmt.Sprintf("/lab/upload-report/%d", orderedLabTestID), models.UploadReportInput{ReportURL: reportURL}, nil)
}

func (c *Client) IssueMedicines(ctx context.Context, visitID uint64) (*services.DispenseResult, error) {
	var res services.DispenseResult
	if err := c.authed(ctx, http.MethodPost, fmt.Sprintf("/pharmacy/issue-medicines/%d", visitID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AddMedicine(ctx context.Context, in models.AddMedicineInput) (*services.StockResult, error) {
	var res services.StockResult
	if err := c.authed(ctx, http.MethodPost, "/office/add-medicine", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
