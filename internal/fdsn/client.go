// Package fdsn fetches channel sensitivities from FDSN station web services.
package fdsn

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/seisguard/internal/logger"
)

// DefaultServers are the station services queried in order.
var DefaultServers = []string{
	"https://data.raspberryshake.org/fdsnws/station/1/query",
	"https://service.iris.edu/fdsnws/station/1/query",
}

var ErrNoMetadata = errors.New("fdsn: no station metadata on any server")

// Client queries a list of FDSN station services.
type Client struct {
	servers        []string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig holds optional HTTP tuning parameters.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewClient creates a client for servers, or DefaultServers if none are given.
func NewClient(servers []string, timeout time.Duration, cfg ClientConfig) *Client {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		servers:        servers,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// stationXML is the subset of FDSN StationXML needed for sensitivities.
type stationXML struct {
	Networks []struct {
		Code     string `xml:"code,attr"`
		Stations []struct {
			Code     string `xml:"code,attr"`
			Channels []struct {
				Code         string `xml:"code,attr"`
				LocationCode string `xml:"locationCode,attr"`
				Sensitivity  *struct {
					Value      float64 `xml:"Value"`
					Frequency  float64 `xml:"Frequency"`
					InputUnits struct {
						Name string `xml:"Name"`
					} `xml:"InputUnits"`
				} `xml:"Response>InstrumentSensitivity"`
			} `xml:"Channel"`
		} `xml:"Station"`
	} `xml:"Network"`
}

// ParseSensitivities extracts the overall sensitivity of every channel in a
// StationXML document, keyed by channel code. Channels without a positive
// sensitivity are skipped.
func ParseSensitivities(r io.Reader) (map[string]float64, error) {
	var doc stationXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode StationXML: %w", err)
	}
	out := make(map[string]float64)
	for _, n := range doc.Networks {
		for _, s := range n.Stations {
			for _, ch := range s.Channels {
				if ch.Sensitivity == nil || ch.Sensitivity.Value <= 0 {
					continue
				}
				out[ch.Code] = ch.Sensitivity.Value
			}
		}
	}
	return out, nil
}

// FetchSensitivities asks each server in turn for the channel metadata of
// network.station and returns the first non-empty set of sensitivities.
func (c *Client) FetchSensitivities(ctx context.Context, network, station string) (map[string]float64, error) {
	var errs []error
	for _, server := range c.servers {
		u, err := queryURL(server, network, station)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("Fetching StationXML from %s", u)

		sens, err := c.fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Station service %s failed for %s.%s: %v", server, network, station, err)
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if len(sens) == 0 {
			logger.Warn("Station service %s has no sensitivities for %s.%s", server, network, station)
			continue
		}
		logger.Info("Loaded %d channel sensitivities for %s.%s from %s", len(sens), network, station, server)
		return sens, nil
	}
	return nil, errors.Join(append([]error{ErrNoMetadata}, errs...)...)
}

func queryURL(server, network, station string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	// the Raspberry Shake service only understands the long parameter name
	staParam := "sta"
	if strings.Contains(u.Host, "raspberryshake") {
		staParam = "station"
	}
	q := u.Query()
	q.Set("net", network)
	q.Set(staParam, station)
	q.Set("level", "channel")
	q.Set("format", "xml")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetch(ctx context.Context, u string) (map[string]float64, error) {
	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return ParseSensitivities(resp.Body)
}

// doRequest performs HTTP request with retry on transport errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/xml")

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
