// Package remote is the beste.schule HTTP client. Every call takes the bearer
// token explicitly; the client holds no credential state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/internal/telemetry"
)

// Config configures the client.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns the production endpoint settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://beste.schule",
		Timeout:      15 * time.Second,
		UserAgent:    "vplan-cache/1.0",
		MaxBodyBytes: 8 << 20,
	}
}

// Client talks to the beste.schule JSON API.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	maxBody   int64
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records every request outcome.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client. Zero config fields fall back to DefaultConfig.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		log:       logging.Component("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Years lists the school years visible to the token.
func (c *Client) Years(ctx context.Context, token string) ([]Year, error) {
	return getData[[]Year](ctx, c, token, "years", "/api/years", nil)
}

// SetCurrentYear makes yearID the active year for the token's account.
func (c *Client) SetCurrentYear(ctx context.Context, token string, yearID int) error {
	body, err := json.Marshal(map[string]int{"id": yearID})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, token, "years.current", "/api/years/current", nil, body); err != nil {
		return err
	}
	c.metrics.Remote("years.current", resultLabel(nil))
	return nil
}

// Student fetches the student bundle with subjects and intervals.
func (c *Client) Student(ctx context.Context, token string, studentID int) (Student, error) {
	q := url.Values{"include": {"subjects,intervals"}}
	return getData[Student](ctx, c, token, "students", "/api/students/"+strconv.Itoa(studentID), q)
}

// Grades fetches every grade of the active year with collection and teacher embedded.
func (c *Client) Grades(ctx context.Context, token string) ([]Grade, error) {
	q := url.Values{"include": {"collection,collection.teacher"}}
	return getData[[]Grade](ctx, c, token, "grades", "/api/grades", q)
}

// Grade fetches one grade with its collection.
func (c *Client) Grade(ctx context.Context, token string, id int) (Grade, error) {
	q := url.Values{"include": {"collection,collection.teacher"}}
	return getData[Grade](ctx, c, token, "grades.item", "/api/grades/"+strconv.Itoa(id), q)
}

func (c *Client) Subjects(ctx context.Context, token string) ([]Subject, error) {
	return getData[[]Subject](ctx, c, token, "subjects", "/api/subjects", nil)
}

func (c *Client) Subject(ctx context.Context, token string, id int) (Subject, error) {
	return getData[Subject](ctx, c, token, "subjects.item", "/api/subjects/"+strconv.Itoa(id), nil)
}

func (c *Client) Teachers(ctx context.Context, token string) ([]Teacher, error) {
	return getData[[]Teacher](ctx, c, token, "teachers", "/api/teachers", nil)
}

func (c *Client) Teacher(ctx context.Context, token string, id int) (Teacher, error) {
	return getData[Teacher](ctx, c, token, "teachers.item", "/api/teachers/"+strconv.Itoa(id), nil)
}

func (c *Client) Intervals(ctx context.Context, token string) ([]Interval, error) {
	return getData[[]Interval](ctx, c, token, "intervals", "/api/intervals", nil)
}

func (c *Client) Interval(ctx context.Context, token string, id int) (Interval, error) {
	return getData[Interval](ctx, c, token, "intervals.item", "/api/intervals/"+strconv.Itoa(id), nil)
}

func (c *Client) Collections(ctx context.Context, token string) ([]Collection, error) {
	return getData[[]Collection](ctx, c, token, "collections", "/api/collections", nil)
}

func (c *Client) Collection(ctx context.Context, token string, id int) (Collection, error) {
	return getData[Collection](ctx, c, token, "collections.item", "/api/collections/"+strconv.Itoa(id), nil)
}

func (c *Client) FinalGrades(ctx context.Context, token string) ([]FinalGrade, error) {
	return getData[[]FinalGrade](ctx, c, token, "finalgrades", "/api/finalgrades", nil)
}

// User returns the account behind token. It doubles as the access check.
func (c *Client) User(ctx context.Context, token string) (User, error) {
	q := url.Values{"include": {"students"}}
	return getData[User](ctx, c, token, "user", "/api/user", q)
}

// getData performs a GET and decodes the {"data": ...} envelope.
func getData[T any](ctx context.Context, c *Client, token, endpoint, path string, query url.Values) (T, error) {
	var zero T

	body, err := c.do(ctx, http.MethodGet, token, endpoint, path, query, nil)
	if err != nil {
		return zero, err
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		err = parseError(endpoint, body, err)
		c.metrics.Remote(endpoint, resultLabel(err))
		return zero, err
	}
	if env.Data == nil {
		err := parseError(endpoint, body, fmt.Errorf("missing data field"))
		c.metrics.Remote(endpoint, resultLabel(err))
		return zero, err
	}
	c.metrics.Remote(endpoint, resultLabel(nil))
	return *env.Data, nil
}

// do sends one request and returns the body of a 2xx answer. Status and
// transport failures are returned as typed errors and counted here; callers
// count the successes once the body is consumed.
func (c *Client) do(ctx context.Context, method, token, endpoint, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = transportError(endpoint, err)
		c.record(endpoint, requestID, 0, start, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			err = tooLargeError(endpoint, resp.StatusCode, c.maxBody)
		} else {
			err = transportError(endpoint, err)
		}
		c.record(endpoint, requestID, resp.StatusCode, start, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = statusError(endpoint, resp.StatusCode, body)
		c.record(endpoint, requestID, resp.StatusCode, start, err)
		return nil, err
	}

	c.record(endpoint, requestID, resp.StatusCode, start, nil)
	return body, nil
}

func (c *Client) record(endpoint, requestID string, status int, start time.Time, err error) {
	ev := c.log.Debug()
	if err != nil {
		c.metrics.Remote(endpoint, resultLabel(err))
		ev = ev.Err(err)
	}
	ev.Str("endpoint", endpoint).
		Str("request_id", requestID).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("remote request")
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
