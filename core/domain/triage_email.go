// Package domain holds the core types flowing through the triage
// pipeline: the inbound message, the threat indicators produced by the
// analyzers, and the final analysis result.
package domain

import (
	"strings"
	"time"
)

// Header is one message header. Names compare case-insensitively.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment describes one attachment without carrying its content.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// EmailMessage is the immutable pipeline input, built from the provider
// response and discarded when the pipeline terminates.
type EmailMessage struct {
	ProviderID  string       `json:"provider_id"`
	MessageID   string       `json:"message_id"` // RFC 822 Message-ID
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Recipient   string       `json:"recipient"`
	ReceivedAt  time.Time    `json:"received_at"`
	Headers     []Header     `json:"headers"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HeaderValue returns the first header with the given name, matched
// case-insensitively, or "".
func (m *EmailMessage) HeaderValue(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SenderDomain returns the part after '@' in the sender address,
// lower-cased, or "".
func (m *EmailMessage) SenderDomain() string {
	return AddressDomain(m.Sender)
}

// AddressDomain extracts the lower-cased domain of an email address.
func AddressDomain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// AddressLocalPart extracts the lower-cased local part of an address.
func AddressLocalPart(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return ""
	}
	return strings.ToLower(addr[:at])
}
