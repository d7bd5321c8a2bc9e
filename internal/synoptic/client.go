package synoptic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/fsutil"
	"github.com/yegors/stationmap/pkg/logger"
)

// Client handles HTTP requests to the Synoptic stations API
type Client struct {
	config config.SynopticConfig
	http   *resty.Client
	logger *logger.Logger
}

// NewClient creates a new stations API client.
// Exactly one request is made per Fetch; failures are not retried.
func NewClient(cfg config.SynopticConfig, log *logger.Logger) *Client {
	clientLogger := log.Named("synoptic-client")

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(clientLogger.Zap().Sugar())

	return &Client{
		config: cfg,
		http:   httpClient,
		logger: clientLogger,
	}
}

// queryParams builds the request parameters. The token is only added when asked
// for so that the logged URL never carries it.
func (c *Client) queryParams(withToken bool) map[string]string {
	radius := strings.Join([]string{
		formatFloat(c.config.Latitude),
		formatFloat(c.config.Longitude),
		formatFloat(c.config.RadiusKM),
	}, ",")

	params := map[string]string{
		"status": c.config.Status,
		"limit":  strconv.Itoa(c.config.Limit),
		"radius": radius,
	}
	if withToken {
		params["token"] = c.config.Token
	}
	return params
}

// redactedURL is the request URL without the token, safe for logs and errors
func (c *Client) redactedURL(kind Kind) string {
	values := url.Values{}
	for k, v := range c.queryParams(false) {
		values.Set(k, v)
	}
	return fmt.Sprintf("%s/stations/%s?%s", strings.TrimRight(c.config.BaseURL, "/"), kind, values.Encode())
}

// Fetch performs one GET against /stations/{kind} and returns the station list
// verbatim. On success the raw list is also written to the audit path.
func (c *Client) Fetch(ctx context.Context, kind Kind) ([]StationRecord, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if c.config.Token == "" {
		return nil, ErrMissingToken
	}

	requestURL := c.redactedURL(kind)
	start := time.Now()

	c.logger.Info("Fetching stations",
		logger.String("kind", string(kind)),
		logger.String("url", requestURL))

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("kind", string(kind)).
		SetQueryParams(c.queryParams(true)).
		Get("/stations/{kind}")
	if err != nil {
		// url.Error carries the full request URL, token included
		err = scrubToken(err, c.config.Token)
		c.logger.Warn("Station API request failed",
			logger.String("kind", string(kind)),
			logger.Error(err))
		return nil, &TransportError{Kind: kind, URL: requestURL, Err: err}
	}

	records, err := c.decode(kind, resp.StatusCode(), resp.Body())
	if err != nil {
		c.logger.Warn("Station API returned an unusable response",
			logger.String("kind", string(kind)),
			logger.Int("status_code", resp.StatusCode()),
			logger.Error(err))
		return nil, err
	}

	if err := c.writeAudit(records); err != nil {
		return nil, err
	}

	c.logger.Info("Fetched stations",
		logger.String("kind", string(kind)),
		logger.Int("stations", len(records)),
		logger.Duration("duration", time.Since(start)))

	return records, nil
}

// decode turns a response into station records or one of the typed errors
func (c *Client) decode(kind Kind, statusCode int, body []byte) ([]StationRecord, error) {
	var envelope Envelope
	jsonErr := json.Unmarshal(body, &envelope)

	if statusCode < 200 || statusCode > 299 {
		retrievalErr := &RetrievalError{Kind: kind, HTTPStatus: statusCode}
		if jsonErr == nil && envelope.Summary != nil {
			retrievalErr.Message = envelope.Summary.ResponseMessage
			if envelope.Summary.ResponseCode != nil {
				retrievalErr.ResponseCode = *envelope.Summary.ResponseCode
			}
		}
		return nil, retrievalErr
	}

	if jsonErr != nil {
		return nil, &MalformedResponseError{Kind: kind, Reason: "invalid JSON", Err: jsonErr}
	}
	if envelope.Summary == nil {
		return nil, &MalformedResponseError{Kind: kind, Reason: "missing SUMMARY"}
	}
	if envelope.Summary.ResponseCode == nil {
		return nil, &MalformedResponseError{Kind: kind, Reason: "missing SUMMARY.RESPONSE_CODE"}
	}

	if code := *envelope.Summary.ResponseCode; code != ResponseCodeSuccess {
		return nil, &RetrievalError{
			Kind:         kind,
			HTTPStatus:   statusCode,
			ResponseCode: code,
			Message:      envelope.Summary.ResponseMessage,
		}
	}

	station := bytes.TrimSpace(envelope.Station)
	if len(station) == 0 || bytes.Equal(station, []byte("null")) {
		return nil, &MalformedResponseError{Kind: kind, Reason: "missing STATION"}
	}

	var records []StationRecord
	if err := json.Unmarshal(station, &records); err != nil {
		return nil, &MalformedResponseError{Kind: kind, Reason: "invalid STATION list", Err: err}
	}
	if records == nil {
		records = []StationRecord{}
	}
	return records, nil
}

// writeAudit overwrites the audit artifact with the raw station list
func (c *Client) writeAudit(records []StationRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode station audit: %w", err)
	}
	if err := fsutil.WriteBytesAtomic(c.config.AuditPath, data); err != nil {
		return fmt.Errorf("failed to write station audit: %w", err)
	}

	c.logger.Debug("Wrote station audit",
		logger.String("path", c.config.AuditPath),
		logger.Int("stations", len(records)))
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// scrubToken removes the token from error text, since url.Error includes the full URL
func scrubToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "REDACTED"), cause: err}
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }
