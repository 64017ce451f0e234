package fdsn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.1">
  <Source>RASPBERRYSHAKE</Source>
  <Network code="AM">
    <Station code="R1234">
      <Channel code="EHZ" locationCode="00">
        <SampleRate>100</SampleRate>
        <Response>
          <InstrumentSensitivity>
            <Value>399650000</Value>
            <Frequency>5</Frequency>
            <InputUnits><Name>M/S</Name></InputUnits>
          </InstrumentSensitivity>
        </Response>
      </Channel>
      <Channel code="ENZ" locationCode="00">
        <Response>
          <InstrumentSensitivity>
            <Value> 384500 </Value>
            <InputUnits><Name>M/S**2</Name></InputUnits>
          </InstrumentSensitivity>
        </Response>
      </Channel>
      <Channel code="HDF" locationCode="00">
        <Response/>
      </Channel>
    </Station>
  </Network>
</FDSNStationXML>`

func newTestClient(servers ...string) *Client {
	return NewClient(servers, time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
}

func TestParseSensitivities(t *testing.T) {
	got, err := ParseSensitivities(strings.NewReader(sampleXML))
	require.NoError(t, err)
	want := map[string]float64{"EHZ": 399650000, "ENZ": 384500}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sensitivities mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseSensitivities(strings.NewReader("<FDSNStationXML><Network"))
	assert.Error(t, err)
}

func TestFetchSensitivities(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL + "/fdsnws/station/1/query").FetchSensitivities(context.Background(), "AM", "R1234")
	require.NoError(t, err)
	assert.Equal(t, 399650000.0, got["EHZ"])
	assert.Contains(t, query, "net=AM")
	assert.Contains(t, query, "sta=R1234")
	assert.Contains(t, query, "level=channel")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchSensitivities(context.Background(), "AM", "R1234")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchFallsBackToNextServer(t *testing.T) {
	var firstCalls atomic.Int32
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer empty.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer good.Close()

	got, err := newTestClient(empty.URL, good.URL).FetchSensitivities(context.Background(), "AM", "R1234")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), firstCalls.Load(), "no retry on 204")
}

func TestFetchAllServersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()

	_, err := newTestClient(srv.URL, bad.URL).FetchSensitivities(context.Background(), "AM", "R1234")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMetadata))
	assert.Contains(t, err.Error(), "server error: 503")
	assert.Contains(t, err.Error(), "unexpected status: 400")
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient([]string{srv.URL}, time.Second, ClientConfig{MaxRetries: 5, RetryDelayBase: time.Hour}).
		FetchSensitivities(ctx, "AM", "R1234")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryURL(t *testing.T) {
	u, err := queryURL(DefaultServers[0], "AM", "R1234")
	require.NoError(t, err)
	assert.Contains(t, u, "station=R1234")
	assert.NotContains(t, u, "sta=R1234")

	u, err = queryURL(DefaultServers[1], "AM", "R1234")
	require.NoError(t, err)
	assert.Contains(t, u, "sta=R1234")
}
