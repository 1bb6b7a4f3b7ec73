package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/models"
)

// Parse reads a raw RFC 5322 message into an InboundMessage. Header problems
// are tolerated; only an unreadable message is a ValidationFailure.
func Parse(raw []byte) (*models.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.New(apperr.ValidationFailure, "mailbox.parse", fmt.Errorf("reading message: %w", err))
	}
	defer mr.Close()

	msg := &models.InboundMessage{}
	h := mr.Header

	msg.MessageID, _ = h.MessageID()
	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	msg.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	msg.References, _ = h.MsgIDList("References")

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = models.Address{Name: from[0].Name, Email: strings.ToLower(from[0].Address)}
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		for _, a := range cc {
			msg.Cc = append(msg.Cc, models.Address{Name: a.Name, Email: strings.ToLower(a.Address)})
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep what was read so far; a broken trailing part should not
			// lose the whole message.
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			if contentType == "" {
				contentType = "text/plain"
			}
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && msg.TextBody == "":
				msg.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			if filename == "" {
				filename = "attachment"
			}
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			msg.Attachments = append(msg.Attachments, models.InboundAttachment{
				Filename: filename,
				MIMEType: contentType,
				Content:  body,
			})
		}
	}

	return msg, nil
}
