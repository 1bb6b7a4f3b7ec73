package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"helpdesk-sync/internal/models"
)

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	// Zero-padded T-000042 in a subject.
	ticketRefPattern = regexp.MustCompile(`(?i)\bT-(\d{6,12})\b`)
	// Message-IDs we generate: T-000042.3@host, already normalized.
	ownMessageIDPattern = regexp.MustCompile(`^t-(\d{6,12})\.\d+@`)
	// [#42] style subject tags.
	subjectTagPattern = regexp.MustCompile(`\[#(\d{1,9})\]`)
)

// NormalizeMessageID strips angle brackets and case from a Message-ID.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}

// MessageKey is the dedup identity of a message: its normalized Message-ID,
// or a digest of sender, subject and date when the header is missing.
func MessageKey(msg *models.InboundMessage) string {
	if id := NormalizeMessageID(msg.MessageID); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(strings.ToLower(msg.From.Email) + "|" + msg.Subject + "|" + msg.Date.UTC().Format(time.RFC3339)))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// threadKeys returns the normalized In-Reply-To and References ids.
func threadKeys(msg *models.InboundMessage) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, raw := range append(append([]string{}, msg.InReplyTo...), msg.References...) {
		k := NormalizeMessageID(raw)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// ticketNumbers extracts ticket numbers referenced by the headers first and
// the subject second, in order and without duplicates.
func ticketNumbers(msg *models.InboundMessage) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	add := func(digits string) {
		n, err := strconv.ParseInt(digits, 10, 64)
		if err == nil && n > 0 && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, id := range threadKeys(msg) {
		if m := ownMessageIDPattern.FindStringSubmatch(id); m != nil {
			add(m[1])
		}
	}
	for _, m := range ticketRefPattern.FindAllStringSubmatch(msg.Subject, -1) {
		add(m[1])
	}
	for _, m := range subjectTagPattern.FindAllStringSubmatch(msg.Subject, -1) {
		add(m[1])
	}
	return out
}

// stripHTML gives a plain-text rendering of an HTML body.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>"} {
		s = strings.ReplaceAll(s, tag, "\n")
	}
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

// plainBody prefers the text part and falls back to the stripped HTML part.
func plainBody(msg *models.InboundMessage) string {
	if body := strings.TrimSpace(msg.TextBody); body != "" {
		return body
	}
	return stripHTML(msg.HTMLBody)
}

// matchesFilters applies the account's subject and sender filters. Each is a
// comma separated list; an empty list accepts everything. Sender entries are
// full addresses, or domains written as "@example.com" or "example.com".
func matchesFilters(account models.MailAccount, msg *models.InboundMessage) bool {
	if subjects := splitList(account.SubjectFilter); len(subjects) > 0 {
		subject := strings.ToLower(msg.Subject)
		ok := false
		for _, s := range subjects {
			if strings.Contains(subject, s) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if senders := splitList(account.FromFilter); len(senders) > 0 {
		from := strings.ToLower(msg.From.Email)
		domain := ""
		if at := strings.LastIndex(from, "@"); at >= 0 {
			domain = from[at+1:]
		}
		for _, s := range senders {
			switch {
			case strings.HasPrefix(s, "@"):
				if domain == s[1:] {
					return true
				}
			case strings.Contains(s, "@"):
				if from == s {
					return true
				}
			default:
				if domain == s {
					return true
				}
			}
		}
		return false
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
