// Package gmail delivers campaign mail through the Gmail API on behalf of the
// campaign owner, authenticated with the owner's OAuth access token.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/service/sending"
)

// DefaultBaseURL is the public Gmail API host.
const DefaultBaseURL = "https://gmail.googleapis.com"

const sendPath = "/gmail/v1/users/me/messages/send"

// Transport sends messages via users.messages.send.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Gmail transport. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Transport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// WithHTTPClient sets the base client the OAuth transport wraps.
func (t *Transport) WithHTTPClient(c *http.Client) *Transport {
	t.httpClient = c
	return t
}

// Kind implements sending.Transport.
func (t *Transport) Kind() domain.TransportKind { return domain.TransportGmail }

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Send implements sending.Transport.
func (t *Transport) Send(ctx context.Context, msg *domain.EmailMessage, accessToken string) (*domain.SendResult, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", sending.ErrAuthExpired)
	}

	raw, err := BuildMIME(msg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(sendRequest{Raw: base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return nil, fmt.Errorf("encode gmail request: %w", err)
	}

	if t.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+sendPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gmail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gmail response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, body)
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode gmail response: %w", err)
	}
	logger.Debug("gmail accepted message", "to", msg.To, "message_id", out.ID)

	return &domain.SendResult{
		MessageID: out.ID,
		ThreadID:  out.ThreadID,
		Transport: domain.TransportGmail,
		SentAt:    t.now().UTC(),
	}, nil
}

// authReasons are 403 reasons that mean the grant itself is unusable.
var authReasons = map[string]bool{
	"authError":                      true,
	"insufficientPermissions":        true,
	"ACCESS_TOKEN_SCOPE_INSUFFICIENT": true,
	"invalid_grant":                  true,
}

func classify(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	detail := ae.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: gmail returned 401: %s", sending.ErrAuthExpired, detail)
	}
	if status == http.StatusForbidden {
		if authReasons[ae.Error.Status] {
			return fmt.Errorf("%w: gmail returned 403: %s", sending.ErrAuthExpired, detail)
		}
		for _, e := range ae.Error.Errors {
			if authReasons[e.Reason] {
				return fmt.Errorf("%w: gmail returned 403 %s: %s", sending.ErrAuthExpired, e.Reason, detail)
			}
		}
	}
	return fmt.Errorf("gmail send failed with status %d: %s", status, detail)
}

// BuildMIME renders msg as an RFC 5322 message with a base64 HTML body.
func BuildMIME(msg *domain.EmailMessage) ([]byte, error) {
	to := stripCRLF(msg.To)
	if to == "" {
		return nil, fmt.Errorf("message has no recipient")
	}

	var b bytes.Buffer
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", stripCRLF(msg.Subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")

	enc := base64.StdEncoding.EncodeToString([]byte(msg.HTMLBody))
	for len(enc) > 76 {
		b.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc + "\r\n")
	return b.Bytes(), nil
}

func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
