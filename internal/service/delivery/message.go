package delivery

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strings"
	"time"
)

// envelope is everything needed to serialize one outbound message.
type envelope struct {
	From    string
	To      string
	Subject string
	HTML    string
	Date    time.Time
	// MessageID is the bracketed Message-ID header value.
	MessageID string
	// References lists earlier Message-IDs in the conversation, oldest
	// first. The last one becomes In-Reply-To.
	References []string
	Headers    map[string]string
}

// headerID derives a Message-ID from the queue id, using the sender's
// domain as the right-hand side.
func headerID(messageID, sender string) string {
	host := "outreach.local"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		host = strings.ToLower(sender[at+1:])
	}
	return "<" + messageID + "@" + host + ">"
}

// buildRawMessage renders an RFC 5322 message with a quoted-printable HTML
// body. Header values are stripped of line breaks.
func buildRawMessage(e envelope) ([]byte, error) {
	to, err := mail.ParseAddress(e.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", e.To, err)
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeader(value))
		buf.WriteString("\r\n")
	}

	if e.From != "" {
		from, err := mail.ParseAddress(e.From)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", e.From, err)
		}
		writeHeader("From", from.String())
	}
	writeHeader("To", to.String())
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(e.Subject)))
	writeHeader("Date", e.Date.Format(time.RFC1123Z))
	if e.MessageID != "" {
		writeHeader("Message-ID", e.MessageID)
	}
	if n := len(e.References); n > 0 {
		writeHeader("In-Reply-To", e.References[n-1])
		writeHeader("References", strings.Join(e.References, " "))
	}

	names := make([]string, 0, len(e.Headers))
	for name := range e.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeHeader(name, e.Headers[name])
	}

	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/html; charset=utf-8")
	writeHeader("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(e.HTML)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(v)
}

// appendSignature places sig at the end of the visible body: before
// </body> when the body is a full document, otherwise after it.
func appendSignature(body, sig string) string {
	if strings.TrimSpace(sig) == "" {
		return body
	}
	block := "<br><br>" + sig
	if i := strings.LastIndex(strings.ToLower(body), "</body>"); i >= 0 {
		return body[:i] + block + body[i:]
	}
	return body + block
}
