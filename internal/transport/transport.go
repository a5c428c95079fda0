// Package transport wraps an HTTP client with the agent's request
// signing, identity headers, and typed GET/POST operations described
// in spec.md §4.2 and §6. It generalises the teacher agent's
// internal/communicator (a bare resty.Client with a bearer token) into
// a client that recomputes a fresh HMAC signature and nonce on every
// call.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/pkg/models"
)

// ErrNoContent signals an HTTP 204 response to a poll-style GET — a
// valid "nothing to do" outcome, not an error condition for callers.
var ErrNoContent = errors.New("no content")

// Client is the signed HTTP client. It is safe for concurrent use by
// multiple worker goroutines/processes sharing the same Config.
type Client struct {
	rc  *resty.Client
	cfg *models.Config
}

// New builds a Client bound to cfg.TransportURL. Each request gets one
// overall timeout of models.ConnectTimeout + models.ReadTimeout (40s);
// no separate connect or read timeout is set.
func New(cfg *models.Config) *Client {
	rc := resty.New().
		SetBaseURL(cfg.TransportURL).
		SetTimeout(models.ConnectTimeout + models.ReadTimeout).
		SetRetryCount(0) // retries are owned by callers (heartbeat/job backoff), not the transport

	return &Client{rc: rc, cfg: cfg}
}

func newNonce() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// signedHeaders computes the five always-attached headers of
// spec.md §4.2 plus the optional X-API-Key.
func (c *Client) signedHeaders(bodyBytes []byte) (map[string]string, error) {
	ts := time.Now().Unix()
	sig, err := cryptoutil.Sign(c.cfg.SharedKey, ts, bodyBytes)
	if err != nil {
		return nil, errors.Wrap(models.ErrSigningUnavailable, err.Error())
	}

	headers := map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Agent-Identity":  c.cfg.IdentityHeader,
		"X-Agent-Nonce":     newNonce(),
		"X-Agent-Timestamp": strconv.FormatInt(ts, 10),
		"X-Agent-Signature": sig,
	}
	if c.cfg.APIKey != "" {
		headers["X-API-Key"] = c.cfg.APIKey
	}
	return headers, nil
}

// legacyHeaders computes the older header set used only by the
// heartbeat path (spec.md §6).
func (c *Client) legacyHeaders(bodyBytes []byte) (map[string]string, error) {
	ts := time.Now().Unix()
	sig, err := cryptoutil.Sign(c.cfg.SharedKey, ts, bodyBytes)
	if err != nil {
		return nil, errors.Wrap(models.ErrSigningUnavailable, err.Error())
	}
	return map[string]string{
		"X-Request-Signature": sig,
		"X-Request-Timestamp": strconv.FormatInt(ts, 10),
		"X-Client-Identity":   c.cfg.IdentityHeader,
		"X-Client-Cert-Sha256": c.cfg.CertFingerprint,
		"X-Client-MTLS":       "success",
	}, nil
}

func classifyTransportErr(err error) error {
	return errors.Wrap(models.ErrTransportUnavailable, err.Error())
}

func httpStatusErr(resp *resty.Response) error {
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return &models.HTTPStatusError{StatusCode: resp.StatusCode(), BodyHead: body}
}

// postSigned marshals payload, signs the exact bytes sent, and POSTs
// to path. out, if non-nil, receives the decoded JSON response body.
func (c *Client) postSigned(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}

	headers, err := c.signedHeaders(body)
	if err != nil {
		return err
	}
	headers["Content-Type"] = "application/json"

	req := c.rc.R().SetContext(ctx).SetHeaders(headers).SetBody(body)
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Post(path)
	if err != nil {
		return classifyTransportErr(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return httpStatusErr(resp)
	}
	return nil
}

// getSigned signs an empty payload (GET requests carry none) and
// issues a GET to path with the given query parameters.
func (c *Client) getSigned(ctx context.Context, path string, query map[string]string, out interface{}) (statusCode int, err error) {
	headers, err := c.signedHeaders(nil)
	if err != nil {
		return 0, err
	}

	req := c.rc.R().SetContext(ctx).SetHeaders(headers)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Get(path)
	if err != nil {
		return 0, classifyTransportErr(err)
	}
	return resp.StatusCode(), nil
}

// Heartbeat posts a liveness payload using the legacy header set.
func (c *Client) Heartbeat(ctx context.Context, payload models.HeartbeatPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal heartbeat")
	}
	headers, err := c.legacyHeaders(body)
	if err != nil {
		return err
	}
	headers["Content-Type"] = "application/json"

	resp, err := c.rc.R().SetContext(ctx).SetHeaders(headers).SetBody(body).Post("/mtls/hello")
	if err != nil {
		return classifyTransportErr(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return httpStatusErr(resp)
	}
	return nil
}

// PollPatchJob issues the long-poll GET for the next patch job. A 204
// response yields (nil, ErrNoContent) mapped to "no job" by the caller.
func (c *Client) PollPatchJob(ctx context.Context, assetID string) (*models.PatchJobCommand, error) {
	var cmd models.PatchJobCommand
	status, err := c.getSigned(ctx, "/mtls/rmm/patch-jobs/next", map[string]string{"asset_id": assetID}, &cmd)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, ErrNoContent
	}
	if status < 200 || status >= 300 {
		return nil, &models.HTTPStatusError{StatusCode: status}
	}
	return &cmd, nil
}

// AckPatchJob posts an acknowledgement for a job state transition.
func (c *Client) AckPatchJob(ctx context.Context, ack models.PatchJobAck) error {
	return c.postSigned(ctx, "/mtls/rmm/patch-jobs/ack", ack, nil)
}

// ReportPatchResult posts the terminal job result to the RMM endpoint.
func (c *Client) ReportPatchResult(ctx context.Context, result models.PatchJobResult) error {
	return c.postSigned(ctx, "/mtls/rmm/patch-jobs/result", result, nil)
}

// ReportPatchResultSidechannel posts the same result body to the PSA
// sidechannel named in spec.md §6.
func (c *Client) ReportPatchResultSidechannel(ctx context.Context, result models.PatchJobResult) error {
	return c.postSigned(ctx, "/patch-results", result, nil)
}

// PostTelemetry posts one typed telemetry record.
func (c *Client) PostTelemetry(ctx context.Context, kind models.TelemetryKind, record models.TelemetryRecord) error {
	return c.postSigned(ctx, "/mtls/rmm/"+string(kind), record, nil)
}

// PostInventory posts one inventory facet snapshot.
func (c *Client) PostInventory(ctx context.Context, facet string, payload interface{}) error {
	return c.postSigned(ctx, "/mtls/inventory/"+facet, payload, nil)
}

// PostIntake posts a PSA ticket-intake body.
func (c *Client) PostIntake(ctx context.Context, payload interface{}) error {
	return c.postSigned(ctx, "/intake", payload, nil)
}

// PostEvidenceSidechannel posts an evidence record to its sidechannel.
func (c *Client) PostEvidenceSidechannel(ctx context.Context, payload interface{}) error {
	return c.postSigned(ctx, "/rmm/evidence", payload, nil)
}

// PostRaw signs and posts an already-encoded JSON payload to an
// arbitrary path. It exists for the uplink shipper (internal/uplink),
// which only knows a spooled envelope's target path and payload bytes,
// never a typed Go value.
func (c *Client) PostRaw(ctx context.Context, path string, payloadJSON json.RawMessage) error {
	headers, err := c.signedHeaders(payloadJSON)
	if err != nil {
		return err
	}
	headers["Content-Type"] = "application/json"

	resp, err := c.rc.R().SetContext(ctx).SetHeaders(headers).SetBody([]byte(payloadJSON)).Post(path)
	if err != nil {
		return classifyTransportErr(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return httpStatusErr(resp)
	}
	return nil
}
