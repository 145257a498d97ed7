// Package guard implements the ordered admission checks that run
// before any expensive work: self-loop detection, duplicate message
// ids, sender allowlisting, and auto-responder suppression. Guards are
// evaluated first-match and perform no I/O.
package guard

import (
	"regexp"
	"strings"

	"triage_server/core/domain"
)

// Denial reasons, in evaluation order.
const (
	ReasonMissingSender      = "missing-sender"
	ReasonMissingMessageID   = "missing-message-id"
	ReasonDuplicateMessageID = "duplicate-message-id"
	ReasonSelfSender         = "self-sender-detected"
	ReasonNotAllowlisted     = "sender-not-allowlisted"
	ReasonAutoResponder      = "auto-responder-detected"
)

// Decision is the outcome of running the chain.
type Decision struct {
	Allowed bool
	Reason  string
}

var (
	autoSubmittedPattern = regexp.MustCompile(`(?i)auto-replied|auto-generated|auto-notified`)
	precedencePattern    = regexp.MustCompile(`(?i)bulk|junk|auto_reply`)
	suppressPattern      = regexp.MustCompile(`(?i)all|dr|autoreply`)
)

// Config holds the chain's static inputs.
type Config struct {
	MailboxAddress  string   // the monitored mailbox
	AllowedEmails   []string // exact-match sender allowlist
	AllowedDomains  []string // suffix-match domain allowlist
	FailOpenNoAllow bool     // no allowlist configured: allow outside production
}

// Chain evaluates the admission predicates in a fixed order.
type Chain struct {
	mailbox       string
	mailboxLocal  string
	mailboxDomain string
	emails        map[string]struct{}
	domains       []string
	failOpen      bool
	seen          *messageIDCache
}

// NewChain builds the chain. Allowlist entries are normalised once.
func NewChain(cfg Config) *Chain {
	mailbox := strings.ToLower(strings.TrimSpace(cfg.MailboxAddress))

	emails := make(map[string]struct{}, len(cfg.AllowedEmails))
	for _, e := range cfg.AllowedEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails[e] = struct{}{}
		}
	}

	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, "@"))); d != "" {
			domains = append(domains, d)
		}
	}

	return &Chain{
		mailbox:       mailbox,
		mailboxLocal:  domain.AddressLocalPart(mailbox),
		mailboxDomain: domain.AddressDomain(mailbox),
		emails:        emails,
		domains:       domains,
		failOpen:      cfg.FailOpenNoAllow,
		seen:          newMessageIDCache(),
	}
}

// Admit runs the chain. Earlier guards shadow later ones, so a denial
// reason always names the first failing predicate.
func (c *Chain) Admit(msg *domain.EmailMessage) Decision {
	sender := strings.ToLower(strings.TrimSpace(msg.Sender))

	// 1. missing-sender
	if sender == "" {
		return deny(ReasonMissingSender)
	}

	// 2. missing-message-id
	id := msg.MessageID
	if id == "" {
		id = msg.ProviderID
	}
	if id == "" {
		return deny(ReasonMissingMessageID)
	}

	// 3. duplicate-message-id
	if !c.seen.remember(id) {
		return deny(ReasonDuplicateMessageID)
	}

	// 4. self-sender-detected: the mailbox itself, or a sibling address
	// in the mailbox domain whose local part extends the mailbox local
	// part (phishing-noreply@, phishing.alerts@, ...).
	if sender == c.mailbox {
		return deny(ReasonSelfSender)
	}
	if c.mailboxDomain != "" && domain.AddressDomain(sender) == c.mailboxDomain &&
		strings.HasPrefix(domain.AddressLocalPart(sender), c.mailboxLocal) {
		return deny(ReasonSelfSender)
	}

	// 5. sender-not-allowlisted
	if d := c.checkAllowlist(sender); !d.Allowed {
		return d
	}

	// 6. auto-responder-detected
	if c.isAutoResponder(sender, msg) {
		return deny(ReasonAutoResponder)
	}

	return Decision{Allowed: true}
}

func (c *Chain) checkAllowlist(sender string) Decision {
	if len(c.emails) == 0 && len(c.domains) == 0 {
		if c.failOpen {
			return Decision{Allowed: true}
		}
		return deny(ReasonNotAllowlisted)
	}

	if _, ok := c.emails[sender]; ok {
		return Decision{Allowed: true}
	}
	senderDomain := domain.AddressDomain(sender)
	for _, d := range c.domains {
		if senderDomain == d || strings.HasSuffix(senderDomain, "."+d) {
			return Decision{Allowed: true}
		}
	}
	return deny(ReasonNotAllowlisted)
}

func (c *Chain) isAutoResponder(sender string, msg *domain.EmailMessage) bool {
	if strings.Contains(sender, "mailer-daemon") || strings.Contains(sender, "postmaster") {
		return true
	}
	for _, h := range msg.Headers {
		v := strings.ToLower(h.Value)
		if strings.Contains(v, "mailer-daemon") || strings.Contains(v, "postmaster") {
			return true
		}
	}
	if autoSubmittedPattern.MatchString(msg.HeaderValue("Auto-Submitted")) {
		return true
	}
	if precedencePattern.MatchString(msg.HeaderValue("Precedence")) {
		return true
	}
	if suppressPattern.MatchString(msg.HeaderValue("X-Auto-Response-Suppress")) {
		return true
	}
	return false
}

// SeenCount reports the message-id cache size, for the stats surface.
func (c *Chain) SeenCount() int {
	return c.seen.len()
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
