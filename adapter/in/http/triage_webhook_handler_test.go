package http

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"triage_server/adapter/in/worker"
)

const testClientState = "s3cret-state"

func newTestApp() (*fiber.App, *worker.NotificationQueue) {
	// Without a pool the queue only buffers, which is all the handler
	// needs here.
	queue := worker.NewNotificationQueue(nil, 10)
	handler := NewWebhookHandler(queue, testClientState)

	app := fiber.New()
	handler.Register(app)
	return app, queue
}

func TestWebhookValidationEchoesToken(t *testing.T) {
	app, _ := newTestApp()

	token := "abc.DEF_123~tok-en"
	req := httptest.NewRequest("GET", "/webhooks/mail?validationToken="+token, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != token {
		t.Fatalf("body = %q, want byte-identical token", body)
	}
}

func TestWebhookValidationRejectsUnsafeToken(t *testing.T) {
	app, _ := newTestApp()

	for _, token := range []string{
		"bad%20token%3Cscript%3E",
		strings.Repeat("a", 300),
	} {
		req := httptest.NewRequest("GET", "/webhooks/mail?validationToken="+token, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		if resp.StatusCode != 400 {
			t.Fatalf("token %q: status = %d, want 400", token, resp.StatusCode)
		}
	}
}

func postNotification(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/mail", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	return resp.StatusCode
}

func TestWebhookNotificationLifecycle(t *testing.T) {
	app, queue := newTestApp()

	// Invalid JSON.
	if code := postNotification(t, app, "{not json"); code != 400 {
		t.Fatalf("invalid body: status = %d, want 400", code)
	}

	// Empty value array.
	if code := postNotification(t, app, `{"value": []}`); code != 400 {
		t.Fatalf("empty batch: status = %d, want 400", code)
	}

	// Wrong clientState.
	wrongState := `{"value":[{"subscriptionId":"sub-1","clientState":"wrong","changeType":"created","resourceData":{"id":"msg-1"}}]}`
	if code := postNotification(t, app, wrongState); code != 403 {
		t.Fatalf("clientState mismatch: status = %d, want 403", code)
	}

	// Valid batch: immediate 202, entries enqueued.
	valid := `{"value":[
		{"subscriptionId":"sub-1","clientState":"` + testClientState + `","changeType":"created","resourceData":{"id":"msg-1","@odata.id":"Users/x/Messages/msg-1"}},
		{"subscriptionId":"sub-1","clientState":"` + testClientState + `","changeType":"created","resourceData":{"id":"msg-2"}}
	]}`
	if code := postNotification(t, app, valid); code != 202 {
		t.Fatalf("valid batch: status = %d, want 202", code)
	}

	if queue.Depth() != 2 {
		t.Fatalf("queue depth = %d, want 2 enqueued entries", queue.Depth())
	}
}

func TestWebhookQueueDropsWhenFull(t *testing.T) {
	queue := worker.NewNotificationQueue(nil, 1)

	if !queue.Enqueue("msg-1") {
		t.Fatal("first enqueue should fit")
	}
	if queue.Enqueue("msg-2") {
		t.Fatal("second enqueue should be dropped")
	}
	if queue.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", queue.Dropped())
	}
}
