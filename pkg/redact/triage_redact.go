// Package redact scrubs addresses, tokens, and bulky payloads from
// strings before they reach logs or stored evidence.
package redact

import (
	"regexp"
	"strings"
)

const maxEvidenceLen = 200

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	bearerPattern = regexp.MustCompile(`(?i)(bearer|token|api[_-]?key|authorization)[=: ]+\S+`)
	keyPattern    = regexp.MustCompile(`\b(sk-[A-Za-z0-9\-_]{8,}|AKIA[0-9A-Z]{16})\b`)
)

// Email masks the local part of an address, keeping the domain so logs
// stay debuggable: "john.doe@example.com" -> "j***@example.com".
func Email(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at <= 0 {
		return addr
	}
	return addr[:1] + "***" + addr[at:]
}

// String removes secrets and masks embedded email addresses.
func String(s string) string {
	s = bearerPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = keyPattern.ReplaceAllString(s, "[REDACTED]")
	s = emailPattern.ReplaceAllStringFunc(s, Email)
	return s
}

// Error is String applied to an error's message; safe on nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Evidence truncates and scrubs an evidence string so indicator
// payloads stay bounded and free of reporter PII.
func Evidence(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxEvidenceLen {
		s = s[:maxEvidenceLen] + "..."
	}
	return String(s)
}
