package mailbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/sending"
)

func tokenServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		time.Sleep(20 * time.Millisecond)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
}

func expiredCred() *domain.Credential {
	return &domain.Credential{
		MailboxID:    "mbx-1",
		Email:        "sender@acme.io",
		AccessToken:  "old-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}
}

func TestGetCredential_Missing(t *testing.T) {
	m := NewManager(memory.New(), &oauth2.Config{}, nil)
	_, err := m.GetCredential(context.Background(), "nope")
	assert.True(t, errors.Is(err, sending.ErrCredentialUnavailable))

	_, err = m.GetCredential(context.Background(), "")
	assert.True(t, errors.Is(err, sending.ErrCredentialUnavailable))
}

func TestGetCredential_NoTokens(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveCredential(context.Background(), &domain.Credential{MailboxID: "mbx-1"}))
	_, err := NewManager(store, &oauth2.Config{}, nil).GetCredential(context.Background(), "mbx-1")
	assert.True(t, errors.Is(err, sending.ErrCredentialUnavailable))
}

func TestRefresh_PersistsNewToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusOK)
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveCredential(ctx, expiredCred()))

	m := NewManager(store, testConfig(srv), nil)
	got, err := m.Refresh(ctx, expiredCred())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.False(t, got.Expired(time.Now()))

	stored, _ := store.LoadCredential(ctx, "mbx-1")
	assert.Equal(t, "fresh-token", stored.AccessToken)
}

func TestRefresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusOK)
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveCredential(ctx, expiredCred()))
	m := NewManager(store, testConfig(srv), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Refresh(ctx, expiredCred())
			assert.NoError(t, err)
			if got != nil {
				assert.Equal(t, "fresh-token", got.AccessToken)
			}
		}()
	}
	wg.Wait()

	// A late caller with the stale copy reuses the stored token.
	_, err := m.Refresh(ctx, expiredCred())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefresh_ProviderRejects(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusBadRequest)
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveCredential(ctx, expiredCred()))

	_, err := NewManager(store, testConfig(srv), nil).Refresh(ctx, expiredCred())
	assert.True(t, errors.Is(err, sending.ErrCredentialRefreshFailed))
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	cred := expiredCred()
	cred.RefreshToken = ""
	_, err := NewManager(memory.New(), &oauth2.Config{}, nil).Refresh(context.Background(), cred)
	assert.True(t, errors.Is(err, sending.ErrCredentialRefreshFailed))
}
