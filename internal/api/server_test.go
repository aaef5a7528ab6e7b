package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driphub/driphub/internal/config"
	"github.com/driphub/driphub/internal/models"
	"github.com/driphub/driphub/internal/scheduler"
	"github.com/driphub/driphub/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()

	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "driphub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	sched := scheduler.New(store, zerolog.Nop())
	srv := NewServer(config.ServerConfig{}, store, sched, zerolog.Nop())

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, apiKey string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createAccount(t *testing.T, baseURL, name string) *models.Account {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/v1/accounts", "", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var acc models.Account
	require.NoError(t, json.Unmarshal(body, &acc))
	require.NotEmpty(t, acc.APIKey)
	return &acc
}

func createSender(t *testing.T, baseURL, apiKey string) *models.Sender {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/v1/senders", apiKey,
		map[string]string{"name": "Ada", "email": "ada@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var snd models.Sender
	require.NoError(t, json.Unmarshal(body, &snd))
	return &snd
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "driphub")
}

func TestAccountAPIKeyIsRedactedOnRead(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/accounts/"+acc.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.Account
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, acc.ID, got.ID)
	assert.Empty(t, got.APIKey, "the key is shown once at creation, never again")
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/senders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/senders", "dk_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSenderEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")
	other := createAccount(t, ts.URL, "Rival")

	snd := createSender(t, ts.URL, acc.APIKey)
	assert.Equal(t, acc.ID, snd.AccountID)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/senders", acc.APIKey,
		map[string]string{"name": "Bad", "email": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/senders", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var senders []models.Sender
	require.NoError(t, json.Unmarshal(body, &senders))
	assert.Len(t, senders, 1)

	// Another tenant cannot see or delete the sender.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/senders/"+snd.ID, other.APIKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/senders/"+snd.ID, other.APIKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/senders/"+snd.ID, acc.APIKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestScheduleCampaignFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")
	snd := createSender(t, ts.URL, acc.APIKey)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/campaigns", acc.APIKey, map[string]interface{}{
		"sender_id":        snd.ID,
		"name":             "Launch",
		"subject":          "Hello",
		"body":             "<p>Hi</p>",
		"recipients":       []string{"a@example.com", "b@example.com", "c@example.com"},
		"start_time":       time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"delay_between_ms": 5000,
		"hourly_limit":     25,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var result scheduler.ScheduleResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.NotEmpty(t, result.CampaignID)
	assert.Equal(t, 3, result.Count)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/campaigns/"+result.CampaignID, acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c models.Campaign
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, models.CampaignProcessing, c.Status)
	assert.Equal(t, 25, c.HourlyLimit)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/campaigns/"+result.CampaignID+"/emails", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var emails []models.Email
	require.NoError(t, json.Unmarshal(body, &emails))
	require.Len(t, emails, 3)
	for _, e := range emails {
		assert.Equal(t, models.EmailScheduled, e.Status)
		require.NotNil(t, e.ScheduledAt)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/emails/"+emails[0].ID, acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/campaigns/"+result.CampaignID+"/stats", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var byStatus map[models.EmailStatus]int64
	require.NoError(t, json.Unmarshal(body, &byStatus))
	assert.EqualValues(t, 3, byStatus[models.EmailScheduled])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/summary", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum storage.Summary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.EqualValues(t, 3, sum.Scheduled)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/stats", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.EqualValues(t, 1, stats.TotalCampaigns)
	assert.EqualValues(t, 3, stats.TotalEmails)
}

func TestScheduleRejectsForeignSender(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")
	other := createAccount(t, ts.URL, "Rival")
	foreign := createSender(t, ts.URL, other.APIKey)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/campaigns", acc.APIKey, map[string]interface{}{
		"sender_id":  foreign.ID,
		"name":       "Launch",
		"subject":    "Hello",
		"body":       "<p>Hi</p>",
		"recipients": []string{"a@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestScheduleValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")
	snd := createSender(t, ts.URL, acc.APIKey)

	cases := []struct {
		name string
		req  map[string]interface{}
	}{
		{"no recipients", map[string]interface{}{
			"sender_id": snd.ID, "name": "Launch", "subject": "Hello", "recipients": []string{},
		}},
		{"missing subject", map[string]interface{}{
			"sender_id": snd.ID, "name": "Launch", "recipients": []string{"a@example.com"},
		}},
		{"negative delay", map[string]interface{}{
			"sender_id": snd.ID, "name": "Launch", "subject": "Hello",
			"recipients": []string{"a@example.com"}, "delay_between_ms": -1,
		}},
		{"bad start time", map[string]interface{}{
			"sender_id": snd.ID, "name": "Launch", "subject": "Hello",
			"recipients": []string{"a@example.com"}, "start_time": "tomorrow",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/campaigns", acc.APIKey, tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}
}

func TestCampaignIsolationBetweenAccounts(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createAccount(t, ts.URL, "Acme")
	other := createAccount(t, ts.URL, "Rival")
	snd := createSender(t, ts.URL, acc.APIKey)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/campaigns", acc.APIKey, map[string]interface{}{
		"sender_id":  snd.ID,
		"name":       "Launch",
		"subject":    "Hello",
		"recipients": []string{"a@example.com"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var result scheduler.ScheduleResult
	require.NoError(t, json.Unmarshal(body, &result))

	for _, path := range []string{
		fmt.Sprintf("/api/v1/campaigns/%s", result.CampaignID),
		fmt.Sprintf("/api/v1/campaigns/%s/emails", result.CampaignID),
		fmt.Sprintf("/api/v1/campaigns/%s/stats", result.CampaignID),
	} {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+path, other.APIKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/campaigns", other.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var campaigns []models.Campaign
	require.NoError(t, json.Unmarshal(body, &campaigns))
	assert.Empty(t, campaigns)
}
