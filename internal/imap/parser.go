package imap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailsync/internal/models"
)

// gmThreadIDItem is the Gmail extension fetch item carrying the conversation id.
const gmThreadIDItem imap.FetchItem = "X-GM-THRID"

// threadHeaderSection fetches only the headers the threading engine needs, without setting \Seen.
func threadHeaderSection() *imap.BodySectionName {
	return &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"REFERENCES", "IN-REPLY-TO"},
		},
		Peek: true,
	}
}

// ParseMessage converts a fetched IMAP message to our Message model.
func ParseMessage(imapMsg *imap.Message, folderName string) (*models.Message, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &models.Message{
		Folder: folderName,
		UID:    imapMsg.Uid,
		Flags:  append([]string{}, imapMsg.Flags...),
		To:     []string{},
		Cc:     []string{},
	}

	if env := imapMsg.Envelope; env != nil {
		if len(env.From) > 0 {
			msg.Sender = formatAddress(env.From[0])
		}
		msg.To = formatAddressList(env.To)
		msg.Cc = formatAddressList(env.Cc)
		msg.Subject = env.Subject
		msg.MessageID = env.MessageId
		msg.InReplyTo = env.InReplyTo
		msg.Date = env.Date
	}
	if msg.Date.IsZero() {
		msg.Date = imapMsg.InternalDate
	}

	if raw := imapMsg.GetBody(threadHeaderSection()); raw != nil {
		inReplyTo, references, err := parseThreadHeaders(raw)
		if err != nil {
			log.Printf("IMAP: failed to parse threading headers of UID %d: %v", imapMsg.Uid, err)
		} else {
			if inReplyTo != "" {
				msg.InReplyTo = inReplyTo
			}
			msg.References = references
		}
	}

	if value, ok := imapMsg.Items[gmThreadIDItem]; ok && value != nil {
		msg.GmThreadID = fmt.Sprint(value)
	}

	return msg, nil
}

// parseThreadHeaders reads In-Reply-To and References from a HEADER.FIELDS literal.
func parseThreadHeaders(r io.Reader) (string, []string, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := mail.Header{Header: message.Header{Header: h}}
	references, err := header.MsgIDList("References")
	if err != nil {
		references = strings.Fields(header.Get("References"))
	}

	inReplyTo := ""
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		inReplyTo = ids[0]
	} else {
		inReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
	}

	return inReplyTo, references, nil
}

// ParseBody parses a full RFC 822 message using enmime.
func ParseBody(r io.Reader) (*models.MessageBody, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email body: %w", err)
	}

	body := &models.MessageBody{
		Text:        envelope.Text,
		HTML:        envelope.HTML,
		Headers:     make(map[string]string),
		Attachments: []models.Attachment{},
	}

	for _, name := range []string{"From", "To", "Cc", "Subject", "Date", "Message-ID", "References", "In-Reply-To"} {
		if value := envelope.GetHeader(name); value != "" {
			body.Headers[name] = value
		}
	}

	for _, part := range envelope.Attachments {
		body.Attachments = append(body.Attachments, models.Attachment{
			Filename:    attachmentName(part.FileName),
			ContentType: part.ContentType,
			SizeBytes:   int64(len(part.Content)),
			ContentID:   part.ContentID,
			IsInline:    false,
		})
	}
	for _, part := range envelope.Inlines {
		body.Attachments = append(body.Attachments, models.Attachment{
			Filename:    attachmentName(part.FileName),
			ContentType: part.ContentType,
			SizeBytes:   int64(len(part.Content)),
			ContentID:   part.ContentID,
			IsInline:    true,
		})
	}

	return body, nil
}

func attachmentName(name string) string {
	if name == "" {
		return "attachment"
	}
	return name
}

// parseFetchedBody reads the BODY[] literal of msg, or returns an empty body when absent.
func parseFetchedBody(msg *imap.Message, section *imap.BodySectionName) (*models.MessageBody, error) {
	literal := msg.GetBody(section)
	if literal == nil {
		return &models.MessageBody{Headers: map[string]string{}, Attachments: []models.Attachment{}}, nil
	}

	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read message literal: %w", err)
	}
	return ParseBody(bytes.NewReader(raw))
}

// formatAddress formats an IMAP address to a string.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

// formatAddressList formats a list of IMAP addresses.
func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		formatted := formatAddress(address)
		if formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
