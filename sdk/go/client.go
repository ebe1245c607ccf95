// Package surgiplansdk is a small client for the SurgiPlan HTTP API.
package surgiplansdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a SurgiPlan HTTP API client. BasePath defaults to /v1.
type Client struct {
	http     *resty.Client
	basePath string
}

type Option func(*Client)

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.http.SetAuthToken(token) }
}

func WithBasePath(p string) Option {
	return func(c *Client) { c.basePath = "/" + strings.Trim(p, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithRetries retries transport failures and 5xx answers.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.http.SetRetryCount(n).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
}

// New creates a client for baseURL, e.g. http://127.0.0.1:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
		basePath: "/v1",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Finding is one detected conflict or violation.
type Finding struct {
	Kind      string   `json:"kind"`
	Severity  string   `json:"severity"`
	RecordIDs []string `json:"record_ids"`
	Resources []string `json:"resources,omitempty"`
	Room      string   `json:"room,omitempty"`
	Count     int      `json:"count,omitempty"`
	Message   string   `json:"message"`
}

// Record is one surgical case. Priority accepts low, medium, high, urgent
// or the Spanish labels.
type Record struct {
	ID              string    `json:"id"`
	Patient         string    `json:"patient,omitempty"`
	Procedure       string    `json:"procedure"`
	Specialty       string    `json:"specialty,omitempty"`
	DurationHours   float64   `json:"duration_hours"`
	Start           time.Time `json:"start"`
	Room            string    `json:"room"`
	Priority        string    `json:"priority"`
	Surgeon         string    `json:"surgeon"`
	InstrumentNurse string    `json:"instrument_nurse"`
	AssistantNurse  string    `json:"assistant_nurse,omitempty"`
	Stratum         int       `json:"stratum,omitempty"`
	WaitDays        int       `json:"wait_days,omitempty"`
}

type Policy struct {
	OverloadThreshold  int      `json:"overload_threshold"`
	OverloadComparison string   `json:"overload_comparison"`
	UrgentDays         []string `json:"urgent_days"`
}

// Analysis is the result of one detection pass. Records is only filled by
// GetAnalysis.
type Analysis struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	RecordCount   int       `json:"record_count"`
	CriticalCount int       `json:"critical_count"`
	Findings      []Finding `json:"findings"`
	Policy        Policy    `json:"policy"`
	Stored        bool      `json:"stored"`
	CreatedAt     string    `json:"created_at"`
	Records       []Record  `json:"records,omitempty"`
}

type AnalysisSummary struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	RecordCount   int    `json:"record_count"`
	FindingCount  int    `json:"finding_count"`
	CriticalCount int    `json:"critical_count"`
	CreatedAt     string `json:"created_at"`
}

// AnalysisPage wraps list responses with cursors.
type AnalysisPage struct {
	Items      []AnalysisSummary `json:"items"`
	NextCursor string            `json:"next_cursor"`
}

type RankedRecord struct {
	Record
	Score int `json:"score"`
}

type Session struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	LastActiveAt string `json:"last_active_at"`
	EndedAt      string `json:"ended_at,omitempty"`
}

type Answer struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Question  string `json:"question"`
	Reply     string `json:"reply"`
}

// APIError is the decoded error envelope of a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
}

// Problem is one row-level defect of an invalid_schedule error.
type Problem struct {
	RecordID string `json:"record_id,omitempty"`
	Row      int    `json:"row,omitempty"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

func (p Problem) String() string {
	var where []string
	if p.Row > 0 {
		where = append(where, "row "+strconv.Itoa(p.Row))
	}
	if p.RecordID != "" {
		where = append(where, "record "+p.RecordID)
	}
	if len(where) == 0 {
		return p.Field + ": " + p.Reason
	}
	return strings.Join(where, " ") + ": " + p.Field + ": " + p.Reason
}

// Problems returns the per-row problems of an invalid_schedule error.
func (e *APIError) Problems() []Problem {
	raw, ok := e.Details["problems"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []Problem
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// Analyze uploads a CSV or XLSX schedule. The extension of filename selects
// the parser.
func (c *Client) Analyze(ctx context.Context, filename string, data []byte) (Analysis, error) {
	var out Analysis
	err := c.upload(ctx, "/analyses", filename, data, &out)
	return out, err
}

// AnalyzeRecords runs detection over records submitted as JSON.
func (c *Client) AnalyzeRecords(ctx context.Context, source string, records []Record) (Analysis, error) {
	var out Analysis
	body := map[string]any{"source": source, "records": records}
	err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost, "/analyses/records")
	return out, err
}

func (c *Client) GetAnalysis(ctx context.Context, id string) (Analysis, error) {
	var out Analysis
	err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, "/analyses/"+url.PathEscape(id))
	return out, err
}

// ListAnalyses returns one page of stored runs, newest first.
func (c *Client) ListAnalyses(ctx context.Context, limit int, cursor string) (AnalysisPage, error) {
	var out AnalysisPage
	req := c.request(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	err := c.do(req, http.MethodGet, "/analyses")
	return out, err
}

func (c *Client) DeleteAnalysis(ctx context.Context, id string) error {
	return c.do(c.request(ctx), http.MethodDelete, "/analyses/"+url.PathEscape(id))
}

func (c *Client) Ranking(ctx context.Context, id string) ([]RankedRecord, error) {
	var out []RankedRecord
	err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, "/analyses/"+url.PathEscape(id)+"/ranking")
	return out, err
}

// Export downloads a stored run as xlsx, pdf, txt or md.
func (c *Client) Export(ctx context.Context, id, format string) ([]byte, error) {
	req := c.request(ctx).SetQueryParam("format", format).SetHeader("Accept", "*/*")
	resp, err := req.Get(c.path("/analyses/" + url.PathEscape(id) + "/export"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}
	return resp.Body(), nil
}

// Summary returns the assistant context block for a schedule file.
func (c *Client) Summary(ctx context.Context, filename string, data []byte) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	err := c.upload(ctx, "/summary", filename, data, &out)
	return out.Summary, err
}

func (c *Client) StartSession(ctx context.Context) (Session, error) {
	var out Session
	err := c.do(c.request(ctx).SetResult(&out), http.MethodPost, "/assistant/sessions")
	return out, err
}

func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.do(c.request(ctx), http.MethodDelete, "/assistant/sessions/"+url.PathEscape(id))
}

// Ask sends a question within a session. analysisID may be empty.
func (c *Client) Ask(ctx context.Context, sessionID, question, analysisID string) (Answer, error) {
	var out Answer
	body := map[string]string{"question": question}
	if analysisID != "" {
		body["analysis_id"] = analysisID
	}
	err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost,
		"/assistant/sessions/"+url.PathEscape(sessionID)+"/questions")
	return out, err
}

func (c *Client) upload(ctx context.Context, endpoint, filename string, data []byte, out any) error {
	contentType := "text/csv"
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	req := c.request(ctx).
		SetQueryParam("filename", filename).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(out)
	return c.do(req, http.MethodPost, endpoint)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&errorEnvelope{})
}

func (c *Client) do(req *resty.Request, method, endpoint string) error {
	resp, err := req.Execute(method, c.path(endpoint))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return c.apiError(resp)
	}
	return nil
}

func (c *Client) apiError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	if env, ok := resp.Error().(*errorEnvelope); ok && env.Error.Code != "" {
		apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
	}
	return apiErr
}

func (c *Client) path(endpoint string) string {
	return c.basePath + "/" + strings.TrimLeft(endpoint, "/")
}
