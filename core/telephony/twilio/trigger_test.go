package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTriggerPostsCallCreation(t *testing.T) {
	var gotForm map[string]string
	var gotAuthUser, gotAuthPass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthUser, gotAuthPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		gotForm = map[string]string{
			"To":   r.PostForm.Get("To"),
			"From": r.PostForm.Get("From"),
			"Url":  r.PostForm.Get("Url"),
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "CAnew"}`))
	}))
	defer server.Close()

	trigger := NewCallTrigger("ACtest", "secret", "+15550001111",
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: server.URL}}),
	)

	sid, err := trigger.Trigger(context.Background(), "+15552223333", "https://example.com/voice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "CAnew" {
		t.Errorf("expected call SID CAnew, got %s", sid)
	}
	if gotAuthUser != "ACtest" || gotAuthPass != "secret" {
		t.Errorf("unexpected basic auth: %s / %s", gotAuthUser, gotAuthPass)
	}
	if gotForm["To"] != "+15552223333" || gotForm["From"] != "+15550001111" {
		t.Errorf("unexpected form values: %v", gotForm)
	}
	if gotForm["Url"] != "https://example.com/voice" {
		t.Errorf("unexpected webhook url: %s", gotForm["Url"])
	}
}

func TestTriggerSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "authentication failed"}`))
	}))
	defer server.Close()

	trigger := NewCallTrigger("ACtest", "wrong", "+15550001111",
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: server.URL}}),
	)

	if _, err := trigger.Trigger(context.Background(), "+15552223333", "https://example.com/voice"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestTriggerRequiresCredentials(t *testing.T) {
	trigger := NewCallTrigger("", "", "+15550001111")
	if _, err := trigger.Trigger(context.Background(), "+15552223333", "https://example.com/voice"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSendMessagePostsToMessagesEndpoint(t *testing.T) {
	var gotPath string
	var gotForm map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		gotForm = map[string]string{
			"To":   r.PostForm.Get("To"),
			"From": r.PostForm.Get("From"),
			"Body": r.PostForm.Get("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SMnew"}`))
	}))
	defer server.Close()

	trigger := NewCallTrigger("ACtest", "secret", "+15550001111",
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: server.URL}}),
	)

	sid, err := trigger.SendMessage(context.Background(), "+15552223333", "your table is booked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SMnew" {
		t.Errorf("expected message SID SMnew, got %s", sid)
	}
	if !strings.HasSuffix(gotPath, "/Accounts/ACtest/Messages.json") {
		t.Errorf("unexpected endpoint path: %s", gotPath)
	}
	if gotForm["To"] != "+15552223333" || gotForm["From"] != "+15550001111" {
		t.Errorf("unexpected form values: %v", gotForm)
	}
	if gotForm["Body"] != "your table is booked" {
		t.Errorf("unexpected message body: %s", gotForm["Body"])
	}
}

// rewriteTransport redirects requests to the test server regardless of the
// request's original host.
type rewriteTransport struct {
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten := strings.TrimPrefix(t.target, "http://")
	req.URL.Scheme = "http"
	req.URL.Host = rewritten
	return http.DefaultTransport.RoundTrip(req)
}
