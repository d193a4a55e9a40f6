package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/sending"
)

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		CampaignID:  "c1",
		RecipientID: "r1",
		To:          "ann@example.com",
		Subject:     "Hello Ann",
		HTMLBody:    "<p>Hi Ann</p>",
	}
}

func TestSend_PostsRawMessageWithBearer(t *testing.T) {
	var gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotRaw = req.Raw

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1","threadId":"th-1","labelIds":["SENT"]}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, "th-1", res.ThreadID)
	assert.Equal(t, domain.TransportGmail, res.Transport)
	assert.False(t, res.SentAt.IsZero())

	decoded, err := base64.URLEncoding.DecodeString(gotRaw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: ann@example.com\r\n")
	assert.Contains(t, string(decoded), "Subject: Hello Ann\r\n")
}

func TestSend_UnauthorizedIsAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials","status":"UNAUTHENTICATED"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sending.ErrAuthExpired))
	assert.Contains(t, err.Error(), "Invalid Credentials")
}

func TestSend_ForbiddenScopeIsAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Request had insufficient authentication scopes.","errors":[{"reason":"insufficientPermissions"}]}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "tok")
	assert.True(t, errors.Is(err, sending.ErrAuthExpired))
}

func TestSend_ForbiddenQuotaIsOrdinaryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Daily sending quota exceeded","errors":[{"reason":"dailyLimitExceeded"}]}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "tok")
	require.Error(t, err)
	assert.False(t, errors.Is(err, sending.ErrAuthExpired))
	assert.Contains(t, err.Error(), "403")
}

func TestSend_ServerErrorNotAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "tok")
	require.Error(t, err)
	assert.False(t, errors.Is(err, sending.ErrAuthExpired))
	assert.Contains(t, err.Error(), "backend down")
}

func TestSend_EmptyTokenNeverCallsAPI(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := New(srv.URL).WithHTTPClient(srv.Client()).Send(context.Background(), testMessage(), "")
	assert.True(t, errors.Is(err, sending.ErrAuthExpired))
	assert.False(t, called)
}

func TestBuildMIME_EncodesSubjectAndBody(t *testing.T) {
	msg := testMessage()
	msg.Subject = "Grüße\r\nBcc: evil@example.com"
	msg.HTMLBody = strings.Repeat("<p>ünïcode</p>", 20)

	raw, err := BuildMIME(msg)
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "Subject: =?utf-8?q?")
	assert.NotContains(t, s, "\r\nBcc:")
	assert.Contains(t, s, "Content-Type: text/html; charset=\"UTF-8\"")

	parts := strings.SplitN(s, "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	for _, line := range strings.Split(strings.TrimSpace(parts[1]), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	body, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[1]), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, msg.HTMLBody, string(body))
}

func TestBuildMIME_RequiresRecipient(t *testing.T) {
	msg := testMessage()
	msg.To = ""
	_, err := BuildMIME(msg)
	assert.Error(t, err)
}
