// Package dispatch runs the request pipeline: quota enforcement, credential
// selection, token resolution, the upstream call, and failover across
// credentials. Every attempt leaves a usage log row, including retries that
// later succeeded on another credential.
package dispatch

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"gempool-go/internal/config"
	"gempool-go/internal/errors"
	"gempool-go/internal/models"
	"gempool-go/internal/oauth"
	"gempool-go/internal/pool"
	"gempool-go/internal/quota"
	"gempool-go/internal/store"
	upstream "gempool-go/internal/upstream/gemini"
)

const errorBodyLimit = 64 * 1024

// Notifier receives usage events for live feeds. May be nil.
type Notifier interface {
	Publish(event string, payload interface{})
}

// UsageWriter persists per-attempt usage rows. Satisfied by the store.
type UsageWriter interface {
	InsertUsageLog(ctx context.Context, l *store.UsageLog) error
}

type Dispatcher struct {
	usage    UsageWriter
	pool     *pool.Pool
	limiter  *quota.Limiter
	client   *upstream.Client
	reg      *config.Registry
	notifier Notifier
}

func New(usage UsageWriter, p *pool.Pool, l *quota.Limiter, client *upstream.Client, reg *config.Registry, n Notifier) *Dispatcher {
	return &Dispatcher{usage: usage, pool: p, limiter: l, client: client, reg: reg, notifier: n}
}

// Request is one inbound inference request, already authenticated and with
// its body translated to the public Gemini shape.
type Request struct {
	User        *store.User
	APIKeyID    int64
	Variant     models.Variant
	Endpoint    string // request path, recorded in the usage log
	Body        []byte // public Gemini-shaped request
	Stream      bool
	CountTokens bool
}

// Reply is the upstream outcome. Exactly one of Body and Stream is set:
// unary replies carry the unwrapped body, streaming replies carry a reader of
// unwrapped public-Gemini SSE frames that the caller must Close.
type Reply struct {
	Credential *store.Credential
	Body       []byte
	Stream     io.ReadCloser
}

// Do runs the retry loop. Fake-stream requests go through the unary path;
// the handler chunks the reply afterwards.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Reply, error) {
	if err := d.limiter.Check(ctx, req.User, req.Variant); err != nil {
		// Rejections are accounted too; the row carries no credential.
		status := http.StatusTooManyRequests
		var apiErr *errors.APIError
		if goerrors.As(err, &apiErr) {
			status = apiErr.HTTPStatus
		}
		d.logAttempt(ctx, req, nil, status, time.Now())
		return nil, err
	}

	rt := d.reg.Snapshot()
	attempts := 1 + rt.ErrorRetryCount
	streaming := req.Stream && req.Variant.Mode != models.StreamFake

	var tried []int64
	for attempt := 0; attempt < attempts; attempt++ {
		cred, err := d.pool.Select(ctx, req.User, req.Variant, tried)
		if err != nil {
			return nil, err
		}

		reply, retry, err := d.attempt(ctx, req, cred, streaming)
		if err == nil {
			return reply, nil
		}
		if !retry {
			return nil, err
		}

		tried = append(tried, cred.ID)
		log.WithFields(log.Fields{
			"credential": cred.ID,
			"attempt":    attempt + 1,
			"model":      req.Variant.Base,
		}).Warnf("attempt failed, trying next credential: %v", err)
	}

	return nil, errors.NoCredentialAvailable("all credentials exhausted for this request, try again later")
}

// attempt runs one credential through token resolution and the upstream call.
// retry reports whether the failure is worth another credential.
func (d *Dispatcher) attempt(ctx context.Context, req *Request, cred *store.Credential, streaming bool) (reply *Reply, retry bool, err error) {
	start := time.Now()

	tok, err := d.pool.Resolve(ctx, cred)
	if err != nil {
		// A dead refresh token is an auth failure even though no upstream
		// status code exists yet; mark it so the credential gets disabled.
		errText := err.Error()
		if goerrors.Is(err, oauth.ErrInvalidGrant) {
			errText = "401 invalid_grant: " + errText
		}
		d.recordFailure(ctx, cred.ID, errText)
		d.logAttempt(ctx, req, cred, http.StatusUnauthorized, start)
		return nil, true, fmt.Errorf("token refresh: %w", err)
	}

	payload, err := upstream.BuildEnvelope(req.Variant, cred.ProjectID, req.Body)
	if err != nil {
		return nil, false, errors.BadRequest(err.Error())
	}

	call := upstream.Call{AccessToken: tok.AccessToken, ProjectID: cred.ProjectID}
	var resp *http.Response
	switch {
	case req.CountTokens:
		resp, err = d.client.CountTokens(ctx, call, payload)
	case streaming:
		resp, err = d.client.Stream(ctx, call, payload)
	default:
		resp, err = d.client.Generate(ctx, call, payload)
	}
	if err != nil {
		d.recordFailure(ctx, cred.ID, err.Error())
		d.logAttempt(ctx, req, cred, http.StatusBadGateway, start)
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()

		errText := fmt.Sprintf("%d %s", resp.StatusCode, body)
		d.recordFailure(ctx, cred.ID, errText)
		d.logAttempt(ctx, req, cred, resp.StatusCode, start)

		apiErr := errors.MapHTTPError(resp.StatusCode, body)
		if errors.IsRetryableUpstream(resp.StatusCode, string(body)) {
			return nil, true, apiErr
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			// Auto-disable already happened via recordFailure; the next
			// credential may still serve the request.
			return nil, true, apiErr
		}
		return nil, false, errors.UpstreamFatal(apiErr.Message)
	}

	d.logAttempt(ctx, req, cred, http.StatusOK, start)

	if streaming {
		return &Reply{Credential: cred, Stream: unwrapStream(ctx, resp.Body)}, false, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		d.recordFailure(ctx, cred.ID, err.Error())
		return nil, true, fmt.Errorf("read upstream response: %w", err)
	}
	return &Reply{Credential: cred, Body: upstream.UnwrapResponse(body)}, false, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, credID int64, errText string) {
	if err := d.pool.RecordFailure(ctx, credID, errText); err != nil {
		log.Errorf("record failure for credential %d: %v", credID, err)
	}
}

// logAttempt writes the usage row for one attempt. Log failures must not
// break the request path.
func (d *Dispatcher) logAttempt(ctx context.Context, req *Request, cred *store.Credential, status int, start time.Time) {
	l := &store.UsageLog{
		UserID:     req.User.ID,
		Model:      req.Variant.String(),
		ModelGroup: string(req.Variant.Group()),
		Endpoint:   req.Endpoint,
		StatusCode: status,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
	if req.APIKeyID > 0 {
		l.APIKeyID = sql.NullInt64{Int64: req.APIKeyID, Valid: true}
	}
	if cred != nil {
		l.CredentialID = sql.NullInt64{Int64: cred.ID, Valid: true}
	}
	if err := d.usage.InsertUsageLog(ctx, l); err != nil {
		log.Errorf("insert usage log: %v", err)
		return
	}
	if d.notifier != nil {
		d.notifier.Publish("usage", l)
	}
}
