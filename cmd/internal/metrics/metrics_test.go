package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_CountsAndExposes(t *testing.T) {
	r := New()
	r.AuthEvent("auth.signin", "fail")
	r.AuthEvent("auth.signin", "fail")
	r.AuthEvent("auth.signin", "success")
	r.Purged(3, 0)
	r.MailFailure("verification")
	r.ObserveHTTP(http.MethodPost, "/api/auth/sign-in", http.StatusUnauthorized, 12*time.Millisecond)

	if got := testutil.ToFloat64(r.authEvents.WithLabelValues("auth.signin", "fail")); got != 2 {
		t.Fatalf("signin fail = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.purgedRows.WithLabelValues("pending_signup")); got != 3 {
		t.Fatalf("purged pending = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("POST", "/api/auth/sign-in", "4xx")); got != 1 {
		t.Fatalf("http 4xx = %v, want 1", got)
	}

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`latch_auth_events_total{event="auth.signin",result="fail"} 2`,
		`latch_mail_failures_total{kind="verification"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	r.AuthEvent("x", "y")
	r.Purged(1, 1)
	r.MailFailure("verification")
	r.ObserveHTTP("GET", "/", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 0: "unknown", 700: "unknown"}
	for in, want := range cases {
		if got := StatusClass(in); got != want {
			t.Fatalf("StatusClass(%d) = %q, want %q", in, got, want)
		}
	}
}
