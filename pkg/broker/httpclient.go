package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// HistoricalBar is the wire shape of one OHLCV bar returned by the market
// data provider.
type HistoricalBar struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// HistoricalResponse is the wire shape of a historical-bars endpoint response.
type HistoricalResponse struct {
	Instrument string          `json:"instrument"`
	Interval   string          `json:"interval"`
	Bars       []HistoricalBar `json:"bars"`
}

// ErrorPayload is the wire shape of a provider error body.
type ErrorPayload struct {
	Error string `json:"error"`
}

// HTTPClient is the reference Client implementation: a thin JSON-over-HTTP
// wrapper, patterned after the CCXT bridge client's single makeRequest
// funnel with typed error classification layered on top.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	log        *logrus.Logger
}

// NewHTTPClient builds an HTTPClient against baseURL with the given timeout
// used as the http.Client's own ceiling; per-call deadlines still come from
// the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration, log *logrus.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
	}
}

// FetchHistorical retrieves OHLCV bars for instrument over [from, to).
func (c *HTTPClient) FetchHistorical(ctx context.Context, instrument models.Instrument, interval models.Interval, from, to time.Time) (models.BarSeries, error) {
	path := fmt.Sprintf("/api/v1/history/%s", url.PathEscape(string(instrument)))
	q := url.Values{}
	q.Set("interval", string(interval))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	var resp HistoricalResponse
	if err := c.makeRequest(ctx, "GET", path+"?"+q.Encode(), nil, &resp); err != nil {
		return models.BarSeries{}, err
	}

	bars := make([]models.Bar, 0, len(resp.Bars))
	for _, wb := range resp.Bars {
		bar, err := decodeBar(wb)
		if err != nil {
			return models.BarSeries{}, &Error{Kind: KindPermanent, Op: "decode bar", Err: err}
		}
		bars = append(bars, bar)
	}

	return models.BarSeries{
		Instrument: instrument,
		Interval:   interval,
		From:       from,
		To:         to,
		Bars:       bars,
	}, nil
}

func decodeBar(wb HistoricalBar) (models.Bar, error) {
	open, err := decimal.NewFromString(wb.Open)
	if err != nil {
		return models.Bar{}, err
	}
	high, err := decimal.NewFromString(wb.High)
	if err != nil {
		return models.Bar{}, err
	}
	low, err := decimal.NewFromString(wb.Low)
	if err != nil {
		return models.Bar{}, err
	}
	closeP, err := decimal.NewFromString(wb.Close)
	if err != nil {
		return models.Bar{}, err
	}
	volume, err := decimal.NewFromString(wb.Volume)
	if err != nil {
		return models.Bar{}, err
	}
	return models.Bar{
		Timestamp: time.Unix(wb.Timestamp, 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}, nil
}

// makeRequest funnels every HTTP call through one place so classification of
// timeouts, rate limits, and auth failures into the broker.Error taxonomy
// happens in exactly one spot.
func (c *HTTPClient) makeRequest(ctx context.Context, method, path string, body, result interface{}) error {
	fullURL := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindPermanent, Op: "marshal request", Err: err}
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindTimeout, Op: method + " " + path, Err: ctx.Err()}
		}
		return &Error{Kind: KindTransient, Op: method + " " + path, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("broker: error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Op: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		return c.classifyHTTPError(resp.StatusCode, respBody, method+" "+path)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Kind: KindPermanent, Op: "unmarshal response", Err: err}
		}
	}
	return nil
}

func (c *HTTPClient) classifyHTTPError(status int, body []byte, op string) error {
	var payload ErrorPayload
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = string(body)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, Op: op, Err: fmt.Errorf("%s", msg)}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Op: op, Err: fmt.Errorf("%s", msg)}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%s", msg)}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf("%s", msg)}
	case status >= 500:
		return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("%s", msg)}
	default:
		return &Error{Kind: KindPermanent, Op: op, Err: fmt.Errorf("http %d: %s", status, msg)}
	}
}

var _ Client = (*HTTPClient)(nil)
