package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goliatone/go-vplan-cache/internal/telemetry"
	"github.com/goliatone/go-vplan-cache/pkg/testsupport"
)

// recordedRequest is what the fake server saw.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeServer(t *testing.T, routes map[string]http.HandlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		h := h
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			fs.mu.Lock()
			fs.requests = append(fs.requests, recordedRequest{
				Method: r.Method,
				Path:   r.URL.Path,
				Query:  r.URL.RawQuery,
				Header: r.Header.Clone(),
				Body:   body,
			})
			fs.mu.Unlock()
			h(w, r)
		})
	}
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) last() recordedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.requests[len(fs.requests)-1]
}

func status(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		io.WriteString(w, body)
	}
}

func newTestClient(fs *fakeServer, opts ...Option) *Client {
	return NewClient(Config{BaseURL: fs.URL + "/", Timeout: 2 * time.Second}, opts...)
}

func TestYears(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/years": testsupport.ServeFixture(t, "years.json"),
	})
	c := newTestClient(fs)

	years, err := c.Years(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Years failed: %v", err)
	}
	if len(years) != 2 {
		t.Fatalf("expected two years, got %d", len(years))
	}
	if years[1].Name != "2025/26" || !years[1].From.Equal(NewDate(2025, time.August, 1).Time) {
		t.Errorf("unexpected year %+v", years[1])
	}

	req := fs.last()
	if got := req.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", got)
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
	if req.Header.Get("User-Agent") != DefaultConfig().UserAgent {
		t.Errorf("unexpected user agent %q", req.Header.Get("User-Agent"))
	}
}

func TestSetCurrentYear(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/years/current": status(http.StatusNoContent, ""),
	})
	c := newTestClient(fs)

	if err := c.SetCurrentYear(context.Background(), "secret", 2); err != nil {
		t.Fatalf("SetCurrentYear failed: %v", err)
	}

	req := fs.last()
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	var payload map[string]int
	if err := json.Unmarshal(req.Body, &payload); err != nil || payload["id"] != 2 {
		t.Errorf("unexpected payload %s", req.Body)
	}
}

func TestStudentBundle(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/students/7": testsupport.ServeFixture(t, "student.json"),
	})
	c := newTestClient(fs)

	student, err := c.Student(context.Background(), "secret", 7)
	if err != nil {
		t.Fatalf("Student failed: %v", err)
	}
	if len(student.Subjects) != 2 || len(student.Intervals) != 2 {
		t.Fatalf("unexpected bundle %+v", student)
	}
	semester := student.Intervals[0]
	if semester.IncludedIntervalID == nil || *semester.IncludedIntervalID != 3 {
		t.Errorf("expected parent interval 3, got %v", semester.IncludedIntervalID)
	}
	if student.Intervals[1].IncludedIntervalID != nil {
		t.Errorf("expected no parent for the year interval")
	}
	if fs.last().Query != "include=subjects%2Cintervals" {
		t.Errorf("unexpected query %q", fs.last().Query)
	}
}

func TestGradesWithEmbeddedCollection(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/grades": testsupport.ServeFixture(t, "grades.json"),
	})
	c := newTestClient(fs)

	grades, err := c.Grades(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Grades failed: %v", err)
	}
	if len(grades) != 2 {
		t.Fatalf("expected two grades, got %d", len(grades))
	}

	first := grades[0]
	if first.Value == nil || *first.Value != "2+" {
		t.Errorf("unexpected value %v", first.Value)
	}
	if first.Collection == nil || first.Collection.Teacher == nil || first.Collection.Teacher.Name != "Müller" {
		t.Errorf("expected embedded collection and teacher, got %+v", first.Collection)
	}
	if grades[1].Value != nil || !grades[1].IsOptional {
		t.Errorf("unexpected second grade %+v", grades[1])
	}
	if grades[1].GivenAt.IsZero() {
		t.Error("expected timestamp given_at to parse")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		check      func(error) bool
		wantStatus int
		wantBody   string
	}{
		{
			name:       "unauthorized",
			handler:    status(http.StatusUnauthorized, `{"message":"Unauthenticated."}`),
			check:      IsUnauthorized,
			wantStatus: 401,
			wantBody:   `{"message":"Unauthenticated."}`,
		},
		{
			name:       "not found",
			handler:    status(http.StatusNotFound, `{"message":"Not Found"}`),
			check:      IsNotFound,
			wantStatus: 404,
		},
		{
			name:       "server error",
			handler:    status(http.StatusBadGateway, "upstream down"),
			check:      IsStatus,
			wantStatus: 502,
			wantBody:   "upstream down",
		},
		{
			name:     "malformed body",
			handler:  status(http.StatusOK, `{"data": [`),
			check:    IsParse,
			wantBody: `{"data": [`,
		},
		{
			name:    "missing envelope",
			handler: status(http.StatusOK, `[{"id": 1}]`),
			check:   IsParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, map[string]http.HandlerFunc{"/api/years": tt.handler})
			c := newTestClient(fs)

			_, err := c.Years(context.Background(), "secret")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			if IsTransport(err) {
				t.Errorf("status and parse failures must not look like transport failures")
			}
			if got := StatusCode(err); got != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, got)
			}
			if tt.wantBody != "" && RawBody(err) != tt.wantBody {
				t.Errorf("expected raw body %q, got %q", tt.wantBody, RawBody(err))
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{})
	url := fs.URL
	fs.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Years(context.Background(), "secret")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if IsStatus(err) || StatusCode(err) != 0 {
		t.Errorf("transport failure must not carry a status")
	}
}

func TestBodyLimit(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/years": status(http.StatusOK, `{"data":[{"id":1,"name":"a very long year name"}]}`),
	})
	c := NewClient(Config{BaseURL: fs.URL, MaxBodyBytes: 16})

	_, err := c.Years(context.Background(), "secret")
	if !IsTooLarge(err) {
		t.Fatalf("expected an oversized body error, got %v", err)
	}
	if IsTransport(err) || IsParse(err) {
		t.Errorf("a response that arrived must not look like a transport or parse failure: %v", err)
	}
	if got := StatusCode(err); got != http.StatusOK {
		t.Errorf("expected the response status to be kept, got %d", got)
	}
}

func TestBodyLimitOnErrorStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/years": status(http.StatusBadGateway, "<html>an upstream error page longer than the limit</html>"),
	})
	c := NewClient(Config{BaseURL: fs.URL, MaxBodyBytes: 16}, WithMetrics(metrics))

	_, err := c.Years(context.Background(), "secret")
	if !IsTooLarge(err) || StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected an oversized 502 answer, got %v (status %d)", err, StatusCode(err))
	}
	if got := testutil.ToFloat64(metrics.RemoteRequests.WithLabelValues("years", "too_large")); got != 1 {
		t.Errorf("expected one too_large years request, got %v", got)
	}
}

func TestRemoteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"/api/years":    testsupport.ServeFixture(t, "years.json"),
		"/api/subjects": status(http.StatusUnauthorized, ""),
	})
	c := newTestClient(fs, WithMetrics(metrics))

	c.Years(context.Background(), "secret")
	c.Subjects(context.Background(), "secret")

	if got := testutil.ToFloat64(metrics.RemoteRequests.WithLabelValues("years", "ok")); got != 1 {
		t.Errorf("expected one ok years request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RemoteRequests.WithLabelValues("subjects", "unauthorized")); got != 1 {
		t.Errorf("expected one unauthorized subjects request, got %v", got)
	}
}

func TestDateJSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2026-03-01"`, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{`"2026-03-01T10:00:00Z"`, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{`"2026-03-01 10:00:00"`, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{`null`, time.Time{}},
		{`""`, time.Time{}},
	}
	for _, tt := range tests {
		var d Date
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.in, err)
			continue
		}
		if !d.Equal(tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, d.Time, tt.want)
		}
	}

	var bad Date
	if err := json.Unmarshal([]byte(`"01.03.2026"`), &bad); err == nil {
		t.Error("expected German date format to be rejected")
	}

	out, _ := json.Marshal(NewDate(2026, time.March, 1))
	if string(out) != `"2026-03-01"` {
		t.Errorf("unexpected marshal output %s", out)
	}
	out, _ = json.Marshal(Date{})
	if string(out) != "null" {
		t.Errorf("expected zero date to marshal as null, got %s", out)
	}
}
