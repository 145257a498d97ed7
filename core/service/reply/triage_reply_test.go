package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/cache"
	"triage_server/pkg/dedup"
	"triage_server/pkg/ratelimit"
)

type fakeProvider struct {
	mu       sync.Mutex
	sent     []*out.OutgoingMessage
	sendErrs int // fail this many sends before succeeding
}

func (f *fakeProvider) List(context.Context, out.ListOptions) ([]*domain.EmailMessage, error) {
	return nil, nil
}
func (f *fakeProvider) Get(context.Context, string) (*domain.EmailMessage, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) Send(_ context.Context, msg *out.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErrs > 0 {
		f.sendErrs--
		return errors.New("send failed")
	}
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeProvider) Subscribe(context.Context, string, string, string, time.Time) (*out.Subscription, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) Renew(context.Context, string, time.Time) (*out.Subscription, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testResult(phishing bool) *domain.AnalysisResult {
	severity := domain.SeverityLow
	score := 1.0
	if phishing {
		severity = domain.SeverityHigh
		score = 7.5
	}
	return &domain.AnalysisResult{
		AnalysisID: "an-123",
		MessageID:  "<m@example>",
		IsPhishing: phishing,
		RiskScore:  score,
		Severity:   severity,
		Confidence: 0.8,
		Indicators: []domain.ThreatIndicator{
			{Severity: domain.SeverityHigh, Description: "one", Evidence: "e1", Confidence: 0.8},
			{Severity: domain.SeverityHigh, Description: "two", Evidence: "e2", Confidence: 0.8},
			{Severity: domain.SeverityMedium, Description: "three", Evidence: "e3", Confidence: 0.8},
			{Severity: domain.SeverityMedium, Description: "four", Evidence: "e4", Confidence: 0.8},
			{Severity: domain.SeverityLow, Description: "five", Evidence: "e5", Confidence: 0.8},
			{Severity: domain.SeverityLow, Description: "six", Evidence: "e6", Confidence: 0.8},
		},
		RecommendedActions: []domain.RecommendedAction{
			{Action: "a1", Description: "d1"},
			{Action: "a2", Description: "d2"},
			{Action: "a3", Description: "d3"},
			{Action: "a4", Description: "d4"},
		},
		AnalyzedAt: time.Now(),
	}
}

func TestReplyHTMLBoundsLists(t *testing.T) {
	html := BuildReplyHTML(testResult(true))

	for _, want := range []string{"Likely phishing", "7.5", "an-123"} {
		if !strings.Contains(html, want) {
			t.Fatalf("reply missing %q", want)
		}
	}
	// Indicators are capped at five, actions at three.
	if strings.Contains(html, "six") {
		t.Fatal("sixth indicator leaked into reply")
	}
	if strings.Contains(html, "a4") {
		t.Fatal("fourth action leaked into reply")
	}
}

func TestReplySubjectTags(t *testing.T) {
	if got := BuildReplySubject(testResult(true), "Invoice"); !strings.HasPrefix(got, "[Phishing]") {
		t.Fatalf("subject = %q", got)
	}
	if got := BuildReplySubject(testResult(false), "Invoice"); !strings.HasPrefix(got, "[Safe]") {
		t.Fatalf("subject = %q", got)
	}
}

func newTestDispatcher(t *testing.T, provider *fakeProvider, limiterCfg ratelimit.Config) (*Dispatcher, *dedup.Deduplicator) {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })

	deduper := dedup.New(store, dedup.Config{Enabled: true, ContentTTL: time.Hour, SenderCooldown: time.Hour})
	limiter := ratelimit.New(store, limiterCfg)
	return NewDispatcher(provider, limiter, deduper, nil), deduper
}

func inboundMsg() *domain.EmailMessage {
	return &domain.EmailMessage{
		MessageID: "<m@example>",
		Sender:    "reporter@corp.example",
		Subject:   "suspicious mail",
		Body:      "please check this",
	}
}

func TestDispatchSendsAndRecords(t *testing.T) {
	provider := &fakeProvider{}
	d, deduper := newTestDispatcher(t, provider, ratelimit.Config{Enabled: true, MaxPerHour: 10, MaxPerDay: 10})

	msg := inboundMsg()
	d.Dispatch(context.Background(), msg, testResult(true))

	if provider.sentCount() != 1 {
		t.Fatalf("sends = %d, want 1", provider.sentCount())
	}
	if provider.sent[0].To != msg.Sender {
		t.Fatalf("reply addressed to %q", provider.sent[0].To)
	}

	// The dedup record exists only after the successful send.
	dec := deduper.ShouldProcess(context.Background(), msg.Sender, msg.Subject, msg.Body)
	if dec.Allowed {
		t.Fatal("dispatch did not record the processed content")
	}
}

func TestDispatchSuppressedByRateLimiter(t *testing.T) {
	provider := &fakeProvider{}
	d, deduper := newTestDispatcher(t, provider, ratelimit.Config{Enabled: true, MaxPerHour: 1, MaxPerDay: 10})

	first := inboundMsg()
	d.Dispatch(context.Background(), first, testResult(true))

	// A different reporter, so the first reply's sender cooldown does
	// not mask whether the suppressed reply recorded anything.
	second := inboundMsg()
	second.Sender = "colleague@corp.example"
	second.Subject = "another report"
	second.Body = "different content"
	d.Dispatch(context.Background(), second, testResult(true))

	if provider.sentCount() != 1 {
		t.Fatalf("sends = %d, want 1 (second reply suppressed)", provider.sentCount())
	}

	// A suppressed reply must not consume the dedup window either.
	dec := deduper.ShouldProcess(context.Background(), second.Sender, second.Subject, second.Body)
	if !dec.Allowed {
		t.Fatal("suppressed reply recorded dedup state")
	}
}

func TestDispatchNoSenderIsSilent(t *testing.T) {
	provider := &fakeProvider{}
	d, _ := newTestDispatcher(t, provider, ratelimit.Config{Enabled: true, MaxPerHour: 10, MaxPerDay: 10})

	msg := inboundMsg()
	msg.Sender = ""
	d.Dispatch(context.Background(), msg, testResult(false))

	if provider.sentCount() != 0 {
		t.Fatal("reply sent despite missing sender")
	}
}

func TestDispatchFailureSendsErrorReply(t *testing.T) {
	provider := &fakeProvider{sendErrs: 1}
	d, deduper := newTestDispatcher(t, provider, ratelimit.Config{Enabled: true, MaxPerHour: 10, MaxPerDay: 10})

	msg := inboundMsg()
	d.Dispatch(context.Background(), msg, testResult(true))

	// The failed main reply is followed by the bounded error reply.
	if provider.sentCount() != 1 {
		t.Fatalf("sends = %d, want 1 error reply", provider.sentCount())
	}
	if !strings.Contains(provider.sent[0].HTML, "an-123") {
		t.Fatal("error reply missing correlation id")
	}

	// A failed main send must not record the content as processed.
	dec := deduper.ShouldProcess(context.Background(), msg.Sender, msg.Subject, msg.Body)
	if !dec.Allowed {
		t.Fatal("failed dispatch recorded dedup state")
	}
}

func TestDispatchEscapesHTML(t *testing.T) {
	result := testResult(true)
	result.Indicators[0].Evidence = `<script>alert(1)</script>`
	html := BuildReplyHTML(result)
	if strings.Contains(html, "<script>") {
		t.Fatal("evidence not escaped")
	}
}
