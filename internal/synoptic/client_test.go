package synoptic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/pkg/logger"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testToken = "s3cr3t-token"

const metadataBody = `{
  "SUMMARY": {"RESPONSE_CODE": 1, "RESPONSE_MESSAGE": "OK", "NUMBER_OF_OBJECTS": 2},
  "STATION": [
    {"STID": "KSLC", "NAME": "Salt Lake City", "LATITUDE": "40.77069", "LONGITUDE": "-111.96503", "DISTANCE": 12.1},
    {"STID": "UTMUR", "NAME": "Murray", "LATITUDE": 40.66, "LONGITUDE": -111.89}
  ]
}`

type testServer struct {
	*httptest.Server
	requests atomic.Int32
	lastPath atomic.Value
	lastQS   atomic.Value
}

func newTestServer(t *testing.T, status int, body string) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		ts.lastPath.Store(r.URL.Path)
		ts.lastQS.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) (*Client, string, *observer.ObservedLogs) {
	t.Helper()
	cfg := config.Default().Synoptic
	cfg.BaseURL = baseURL
	cfg.Token = testToken
	cfg.RequestTimeoutSeconds = 5
	cfg.AuditPath = filepath.Join(t.TempDir(), "station_metadata.json")

	core, logs := observer.New(zapcore.DebugLevel)
	return NewClient(cfg, logger.NewWithCore(core)), cfg.AuditPath, logs
}

func assertNoToken(t *testing.T, logs *observer.ObservedLogs) {
	t.Helper()
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, testToken)
		for k, v := range entry.ContextMap() {
			s, _ := json.Marshal(v)
			assert.NotContains(t, string(s), testToken, "field %s leaks token", k)
		}
	}
}

func TestFetchMetadata(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, metadataBody)
	client, auditPath, logs := newTestClient(t, ts.URL)

	records, err := client.Fetch(context.Background(), KindMetadata)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "KSLC", records[0].STID)
	assert.Equal(t, "Salt Lake City", records[0].Name)
	assert.JSONEq(t, `"40.77069"`, string(records[0].Latitude))
	assert.JSONEq(t, `40.66`, string(records[1].Latitude))

	assert.EqualValues(t, 1, ts.requests.Load())
	assert.Equal(t, "/stations/metadata", ts.lastPath.Load())

	qs := ts.lastQS.Load().(url.Values)
	assert.Equal(t, []string{"active"}, qs["status"])
	assert.Equal(t, []string{"40.667882,-111.924244,16"}, qs["radius"])
	assert.Equal(t, []string{"1000"}, qs["limit"])
	assert.Equal(t, []string{testToken}, qs["token"])

	// audit artifact carries the station list verbatim
	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	var audit []map[string]any
	require.NoError(t, json.Unmarshal(data, &audit))
	require.Len(t, audit, 2)
	assert.Equal(t, "40.77069", audit[0]["LATITUDE"])
	assert.Equal(t, 12.1, audit[0]["DISTANCE"])

	assertNoToken(t, logs)
}

func TestFetchLatestKeepsObservations(t *testing.T) {
	body := `{"SUMMARY":{"RESPONSE_CODE":1},"STATION":[
		{"STID":"A","NAME":"Alpha","LATITUDE":"40.0","LONGITUDE":"-111.0","OBSERVATIONS":{"air_temp_value_1":{"value":12.3}}},
		{"STID":"B","NAME":"Bravo","LATITUDE":"40.1","LONGITUDE":"-111.1"}
	]}`
	ts := newTestServer(t, http.StatusOK, body)
	client, _, _ := newTestClient(t, ts.URL)

	records, err := client.Fetch(context.Background(), KindLatest)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/stations/latest", ts.lastPath.Load())
	assert.True(t, records[0].HasObservations())
	assert.False(t, records[1].HasObservations())
}

func TestFetchEmptyStationList(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, `{"SUMMARY":{"RESPONSE_CODE":1},"STATION":[]}`)
	client, auditPath, _ := newTestClient(t, ts.URL)

	records, err := client.Fetch(context.Background(), KindMetadata)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.FileExists(t, auditPath)
}

func TestFetchUnknownKindMakesNoRequest(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, metadataBody)
	client, auditPath, _ := newTestClient(t, ts.URL)

	_, err := client.Fetch(context.Background(), Kind("timeseries"))
	require.ErrorIs(t, err, ErrUnknownKind)
	assert.Zero(t, ts.requests.Load())
	assert.NoFileExists(t, auditPath)
}

func TestFetchWithoutTokenMakesNoRequest(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, metadataBody)
	cfg := config.Default().Synoptic
	cfg.BaseURL = ts.URL
	cfg.AuditPath = filepath.Join(t.TempDir(), "audit.json")
	client := NewClient(cfg, logger.NewNop())

	_, err := client.Fetch(context.Background(), KindMetadata)
	require.ErrorIs(t, err, ErrMissingToken)
	assert.Zero(t, ts.requests.Load())
	assert.NoFileExists(t, cfg.AuditPath)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "non-success response code",
			status: http.StatusOK,
			body:   `{"SUMMARY":{"RESPONSE_CODE":0,"RESPONSE_MESSAGE":"No stations found"},"STATION":[]}`,
			check: func(t *testing.T, err error) {
				var re *RetrievalError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, 0, re.ResponseCode)
				assert.Equal(t, "No stations found", re.Message)
			},
		},
		{
			name:   "invalid token response code",
			status: http.StatusOK,
			body:   `{"SUMMARY":{"RESPONSE_CODE":2,"RESPONSE_MESSAGE":"Invalid token"}}`,
			check: func(t *testing.T, err error) {
				var re *RetrievalError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, 2, re.ResponseCode)
			},
		},
		{
			name:   "http error status",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				var re *RetrievalError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, http.StatusInternalServerError, re.HTTPStatus)
			},
		},
		{
			name:   "http error with envelope",
			status: http.StatusForbidden,
			body:   `{"SUMMARY":{"RESPONSE_CODE":-1,"RESPONSE_MESSAGE":"forbidden"}}`,
			check: func(t *testing.T, err error) {
				var re *RetrievalError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, http.StatusForbidden, re.HTTPStatus)
				assert.Equal(t, "forbidden", re.Message)
			},
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>maintenance</html>`,
			check: func(t *testing.T, err error) {
				var me *MalformedResponseError
				require.ErrorAs(t, err, &me)
			},
		},
		{
			name:   "missing summary",
			status: http.StatusOK,
			body:   `{"STATION":[]}`,
			check: func(t *testing.T, err error) {
				var me *MalformedResponseError
				require.ErrorAs(t, err, &me)
				assert.Equal(t, "missing SUMMARY", me.Reason)
			},
		},
		{
			name:   "missing response code",
			status: http.StatusOK,
			body:   `{"SUMMARY":{},"STATION":[]}`,
			check: func(t *testing.T, err error) {
				var me *MalformedResponseError
				require.ErrorAs(t, err, &me)
			},
		},
		{
			name:   "missing station on success",
			status: http.StatusOK,
			body:   `{"SUMMARY":{"RESPONSE_CODE":1}}`,
			check: func(t *testing.T, err error) {
				var me *MalformedResponseError
				require.ErrorAs(t, err, &me)
				assert.Equal(t, "missing STATION", me.Reason)
			},
		},
		{
			name:   "station not a list",
			status: http.StatusOK,
			body:   `{"SUMMARY":{"RESPONSE_CODE":1},"STATION":{"STID":"A"}}`,
			check: func(t *testing.T, err error) {
				var me *MalformedResponseError
				require.ErrorAs(t, err, &me)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.status, tt.body)
			client, auditPath, logs := newTestClient(t, ts.URL)

			records, err := client.Fetch(context.Background(), KindMetadata)
			require.Error(t, err)
			assert.Nil(t, records)
			tt.check(t, err)

			assert.EqualValues(t, 1, ts.requests.Load())
			assert.NoFileExists(t, auditPath, "failed fetch must not write the audit file")
			assert.NotContains(t, err.Error(), testToken)
			assertNoToken(t, logs)
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	baseURL := ts.URL
	ts.Close()

	client, auditPath, logs := newTestClient(t, baseURL)

	_, err := client.Fetch(context.Background(), KindLatest)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindLatest, te.Kind)
	assert.NotContains(t, err.Error(), testToken)
	assert.True(t, strings.HasPrefix(te.URL, baseURL+"/stations/latest?"))
	assert.NoFileExists(t, auditPath)
	assertNoToken(t, logs)

	failures := logs.FilterMessage("Station API request failed").All()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].ContextMap()["error"], "token=REDACTED")
}

func TestFetchCancelledContext(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, metadataBody)
	client, _, logs := newTestClient(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, KindMetadata)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, context.Canceled))
	assertNoToken(t, logs)
}

func TestFetchAuditWriteFailureFailsFetch(t *testing.T) {
	ts := newTestServer(t, http.StatusOK, metadataBody)
	client, _, _ := newTestClient(t, ts.URL)

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	client.config.AuditPath = filepath.Join(blocker, "audit.json")

	_, err := client.Fetch(context.Background(), KindMetadata)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station audit")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("latest")
	require.NoError(t, err)
	assert.Equal(t, KindLatest, k)

	_, err = ParseKind("LATEST")
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = ParseKind("")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestStationRecordMarshalKeepsRawBytes(t *testing.T) {
	raw := `{"STID":"X","NAME":"Ex","LATITUDE":"1.5","LONGITUDE":2,"EXTRA":{"a":1}}`
	var r StationRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
