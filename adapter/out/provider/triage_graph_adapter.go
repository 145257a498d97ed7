// Package provider implements the Microsoft Graph mail adapter: list
// and fetch messages from the monitored mailbox, send replies, and
// manage the change-notification subscription. Authentication is
// app-only via the client-credentials grant.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/httputil"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

const messageSelect = "id,internetMessageId,subject,from,toRecipients,receivedDateTime,body,hasAttachments"

// GraphConfig holds the app registration for the monitored tenant.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	Mailbox      string // the shared reporting address
	MaxPages     int
	BaseURL      string // override for tests
}

// GraphAdapter implements out.MailProvider against Microsoft Graph.
type GraphAdapter struct {
	mailbox  string
	maxPages int
	baseURL  string
	client   *http.Client
}

// NewGraphAdapter builds the adapter with a cached app-only token
// source over the tuned Graph HTTP client.
func NewGraphAdapter(cfg GraphConfig) *GraphAdapter {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = graphBaseURL
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     microsoft.AzureADEndpoint(tenant).TokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	// Token refreshes ride the tuned Graph transport.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httputil.GraphClient())

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	return &GraphAdapter{
		mailbox:  cfg.Mailbox,
		maxPages: maxPages,
		baseURL:  baseURL,
		client:   creds.Client(ctx),
	}
}

// graphMessage mirrors the Graph message resource fields we read.
type graphMessage struct {
	ID                string `json:"id"`
	InternetMessageID string `json:"internetMessageId"`
	Subject           string `json:"subject"`
	From              *struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Body             *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	HasAttachments bool `json:"hasAttachments"`
}

type graphAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// List returns recent messages, newest first. Listed messages are
// light: headers and attachments are populated by Get.
func (a *GraphAdapter) List(ctx context.Context, opts out.ListOptions) ([]*domain.EmailMessage, error) {
	top := opts.Top
	if top <= 0 {
		top = 25
	}
	pages := opts.Pages
	if pages <= 0 || pages > a.maxPages {
		pages = a.maxPages
	}

	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", top))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$select", messageSelect)
	if !opts.Since.IsZero() {
		params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", opts.Since.UTC().Format(time.RFC3339)))
	}

	var messages []*domain.EmailMessage
	nextLink := a.mailboxURL("/messages") + "?" + params.Encode()

	for page := 0; nextLink != "" && page < pages; page++ {
		var resp struct {
			Value    []graphMessage `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		if err := a.doGet(ctx, nextLink, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Value {
			messages = append(messages, a.convertMessage(&resp.Value[i]))
		}
		nextLink = resp.NextLink
	}

	return messages, nil
}

// Get fetches one message in full, including internet headers and
// attachment descriptors.
func (a *GraphAdapter) Get(ctx context.Context, providerID string) (*domain.EmailMessage, error) {
	params := url.Values{}
	params.Set("$select", messageSelect+",internetMessageHeaders")

	var msg graphMessage
	if err := a.doGet(ctx, a.mailboxURL("/messages/"+url.PathEscape(providerID))+"?"+params.Encode(), &msg); err != nil {
		return nil, err
	}

	converted := a.convertMessage(&msg)

	if msg.HasAttachments {
		attachments, err := a.listAttachments(ctx, providerID)
		if err != nil {
			return nil, err
		}
		converted.Attachments = attachments
	}

	return converted, nil
}

func (a *GraphAdapter) listAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	params := url.Values{}
	params.Set("$select", "name,contentType,size")

	var resp struct {
		Value []graphAttachment `json:"value"`
	}
	err := a.doGet(ctx, a.mailboxURL("/messages/"+url.PathEscape(messageID)+"/attachments")+"?"+params.Encode(), &resp)
	if err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, 0, len(resp.Value))
	for _, att := range resp.Value {
		attachments = append(attachments, domain.Attachment{
			Filename: att.Name,
			MimeType: att.ContentType,
			Size:     att.Size,
		})
	}
	return attachments, nil
}

// Send delivers a reply through the mailbox's sendMail action.
func (a *GraphAdapter) Send(ctx context.Context, msg *out.OutgoingMessage) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": msg.Subject,
			"body": map[string]string{
				"contentType": "html",
				"content":     msg.HTML,
			},
			"toRecipients": []map[string]interface{}{
				{"emailAddress": map[string]string{"address": msg.To}},
			},
		},
		"saveToSentItems": true,
	}

	return a.doPost(ctx, a.mailboxURL("/sendMail"), body, nil)
}

// Subscribe creates the change-notification subscription.
func (a *GraphAdapter) Subscribe(ctx context.Context, resource, notificationURL, clientState string, expiresAt time.Time) (*out.Subscription, error) {
	if resource == "" {
		resource = fmt.Sprintf("/users/%s/mailFolders('inbox')/messages", a.mailbox)
	}

	payload := map[string]interface{}{
		"changeType":         "created",
		"notificationUrl":    notificationURL,
		"resource":           resource,
		"clientState":        clientState,
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	var resp struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := a.doPost(ctx, a.baseURL+"/subscriptions", payload, &resp); err != nil {
		return nil, err
	}

	expires, _ := time.Parse(time.RFC3339, resp.ExpirationDateTime)
	return &out.Subscription{ID: resp.ID, Resource: resp.Resource, ExpiresAt: expires}, nil
}

// Renew extends an existing subscription.
func (a *GraphAdapter) Renew(ctx context.Context, subscriptionID string, expiresAt time.Time) (*out.Subscription, error) {
	payload := map[string]interface{}{
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	var resp struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := a.doPatch(ctx, a.baseURL+"/subscriptions/"+url.PathEscape(subscriptionID), payload, &resp); err != nil {
		return nil, err
	}

	expires, _ := time.Parse(time.RFC3339, resp.ExpirationDateTime)
	return &out.Subscription{ID: resp.ID, Resource: resp.Resource, ExpiresAt: expires}, nil
}

// Unsubscribe deletes the subscription, best effort on shutdown.
func (a *GraphAdapter) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return a.doDelete(ctx, a.baseURL+"/subscriptions/"+url.PathEscape(subscriptionID))
}

func (a *GraphAdapter) mailboxURL(suffix string) string {
	return a.baseURL + "/users/" + url.PathEscape(a.mailbox) + suffix
}

func (a *GraphAdapter) convertMessage(msg *graphMessage) *domain.EmailMessage {
	converted := &domain.EmailMessage{
		ProviderID: msg.ID,
		MessageID:  msg.InternetMessageID,
		Subject:    msg.Subject,
		ReceivedAt: msg.ReceivedDateTime,
	}

	if msg.From != nil {
		converted.Sender = strings.ToLower(msg.From.EmailAddress.Address)
	}
	if len(msg.ToRecipients) > 0 {
		converted.Recipient = strings.ToLower(msg.ToRecipients[0].EmailAddress.Address)
	}
	if msg.Body != nil {
		converted.Body = msg.Body.Content
	}
	for _, h := range msg.InternetMessageHeaders {
		converted.Headers = append(converted.Headers, domain.Header{Name: h.Name, Value: h.Value})
	}

	return converted
}

// HTTP helpers

func (a *GraphAdapter) doGet(ctx context.Context, target string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return a.do(req, result)
}

func (a *GraphAdapter) doPost(ctx context.Context, target string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, result)
}

func (a *GraphAdapter) doPatch(ctx context.Context, target string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, result)
}

func (a *GraphAdapter) doDelete(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	return a.do(req, nil)
}

func (a *GraphAdapter) do(req *http.Request, result interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.ProviderError(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperr.ProviderError(
			fmt.Sprintf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode),
			fmt.Errorf("%s", body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}
