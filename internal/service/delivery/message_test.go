package delivery

import (
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRawMessage(t *testing.T) {
	longLink := "https://acme.io/" + strings.Repeat("x", 120) + "?a=1&b=2"
	raw, err := buildRawMessage(envelope{
		From:    "Sam <sam@ignite.io>",
		To:      "ada@acme.io",
		Subject: "Über pricing\r\nBcc: victim@evil.io",
		HTML:    `<p>Hello <a href="` + longLink + `">here</a></p>`,
		Date:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Headers: map[string]string{"X-Outreach-Message": "m-1"},
	})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Über pricing Bcc: victim@evil.io", subject)
	assert.Empty(t, msg.Header.Get("Bcc"))

	assert.Equal(t, `"Sam" <sam@ignite.io>`, msg.Header.Get("From"))
	assert.Equal(t, "1.0", msg.Header.Get("MIME-Version"))
	assert.Equal(t, "quoted-printable", msg.Header.Get("Content-Transfer-Encoding"))
	assert.Equal(t, "m-1", msg.Header.Get("X-Outreach-Message"))

	date, err := msg.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	for _, line := range strings.Split(string(raw), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}

	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	require.NoError(t, err)
	assert.Contains(t, string(body), longLink)
}

func TestBuildRawMessage_ThreadingHeaders(t *testing.T) {
	raw, err := buildRawMessage(envelope{
		From:       "sam@ignite.io",
		To:         "ada@acme.io",
		Subject:    "Quick follow-up",
		HTML:       "<p>x</p>",
		Date:       time.Now(),
		MessageID:  "<m-3@ignite.io>",
		References: []string{"<m-1@ignite.io>", "<m-2@ignite.io>"},
	})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "<m-3@ignite.io>", msg.Header.Get("Message-ID"))
	assert.Equal(t, "<m-2@ignite.io>", msg.Header.Get("In-Reply-To"))
	assert.Equal(t, "<m-1@ignite.io> <m-2@ignite.io>", msg.Header.Get("References"))
}

func TestBuildRawMessage_FirstTouchHasNoReplyHeaders(t *testing.T) {
	raw, err := buildRawMessage(envelope{
		To:        "ada@acme.io",
		Subject:   "Hello",
		HTML:      "<p>x</p>",
		Date:      time.Now(),
		MessageID: "<m-1@ignite.io>",
	})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "<m-1@ignite.io>", msg.Header.Get("Message-ID"))
	assert.Empty(t, msg.Header.Get("In-Reply-To"))
	assert.Empty(t, msg.Header.Get("References"))
}

func TestHeaderID(t *testing.T) {
	assert.Equal(t, "<abc-1@ignite.io>", headerID("abc-1", "Sam@Ignite.io"))
	assert.Equal(t, "<abc-1@outreach.local>", headerID("abc-1", ""))
}

func TestBuildRawMessage_InvalidRecipient(t *testing.T) {
	_, err := buildRawMessage(envelope{To: "nobody", Subject: "s", HTML: "x"})
	require.Error(t, err)
}

func TestAppendSignature(t *testing.T) {
	assert.Equal(t, "<p>x</p>", appendSignature("<p>x</p>", "  "))
	assert.Equal(t, "<p>x</p><br><br>Sam", appendSignature("<p>x</p>", "Sam"))
	assert.Equal(t, "<html><body>x<br><br>Sam</BODY></html>", appendSignature("<html><body>x</BODY></html>", "Sam"))
}
