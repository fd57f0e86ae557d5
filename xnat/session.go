package xnat

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"xnat-importer/constants"
	"xnat-importer/entities"

	"github.com/gojektech/heimdall/v6"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Credentials identify an account on one server.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// Key identifies the session a set of credentials maps to.
func (c Credentials) Key() string {
	return strings.TrimRight(c.BaseURL, "/") + "|" + c.Username
}

// Request is one call to the REST API. Path is relative to the data root.
// Body is called once per attempt so a request can be re-issued after a
// session renewal.
type Request struct {
	Method      string
	Path        string
	Parameters  url.Values
	ContentType string
	Body        func() (io.ReadCloser, error)
	Size        int64
}

// Caller issues authenticated requests.
type Caller interface {
	Call(ctx context.Context, req *Request) (*http.Response, error)
}

// SessionManager owns the session token of one account and renews it when
// the server rejects it. It is safe for concurrent use.
type SessionManager struct {
	creds   Credentials
	client  heimdall.Doer
	limiter *rate.Limiter
	logger  *zap.Logger

	mu           sync.Mutex
	token        string
	generation   int
	authFailures int
	// lastFailure is the error of the last failed login, made while
	// generation was failedAt. Cleared by a successful login.
	lastFailure error
	failedAt    int
}

func NewSessionManager(creds Credentials, client heimdall.Doer, limiter *rate.Limiter, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &SessionManager{
		creds:   creds,
		client:  client,
		limiter: limiter,
		logger:  logger.With(zap.String("base_url", creds.BaseURL), zap.String("username", creds.Username)),
	}
}

// Authenticate opens a new session and returns its token.
func (m *SessionManager) Authenticate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticateLocked(ctx)
}

func (m *SessionManager) authenticateLocked(ctx context.Context) (string, error) {
	if m.authFailures >= constants.MaxAuthFailures {
		return "", &entities.AuthError{Fatal: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.creds.BaseURL+"/data/JSESSION", nil)
	if err != nil {
		return "", errors.Wrap(err, "build session request")
	}
	req.SetBasicAuth(m.creds.Username, m.creds.Password)

	resp, err := m.client.Do(req)
	if resp == nil {
		return "", &entities.TransportError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", &entities.TransportError{Op: "authenticate", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", &entities.TransportError{Op: "authenticate", Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", m.failedLocked(resp.StatusCode, nil)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", m.failedLocked(resp.StatusCode, errors.New("empty session token"))
	}

	m.token = token
	m.generation++
	m.lastFailure = nil
	m.logger.Info("session opened", zap.Int("generation", m.generation))
	return token, nil
}

func (m *SessionManager) failedLocked(status int, err error) error {
	m.authFailures++
	m.token = ""
	authErr := &entities.AuthError{
		Status: status,
		Err:    err,
		Fatal:  m.authFailures >= constants.MaxAuthFailures,
	}
	m.lastFailure = authErr
	m.failedAt = m.generation
	m.logger.Warn("authentication failed",
		zap.Int("status", status),
		zap.Int("failures", m.authFailures),
		zap.Bool("fatal", authErr.Fatal))
	return authErr
}

func (m *SessionManager) current(ctx context.Context) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		if _, err := m.authenticateLocked(ctx); err != nil {
			return "", 0, err
		}
	}
	return m.token, m.generation, nil
}

// renew replaces the token issued at generation stale. Nothing is done when
// another caller already renewed it, and a failed renewal of stale is
// shared by every caller instead of being retried and counted again.
func (m *SessionManager) renew(ctx context.Context, stale int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != stale && m.token != "" {
		return nil
	}
	if m.token == "" && m.lastFailure != nil && m.failedAt == stale {
		return m.lastFailure
	}
	_, err := m.authenticateLocked(ctx)
	return err
}

func (m *SessionManager) rejected(stale int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != stale && m.token != "" {
		return &entities.AuthError{Status: http.StatusUnauthorized, Err: errors.New("session rejected")}
	}
	return m.failedLocked(http.StatusUnauthorized, errors.New("renewed session rejected"))
}

func (m *SessionManager) succeeded() {
	m.mu.Lock()
	m.authFailures = 0
	m.mu.Unlock()
}

// Call sends req with the current session, renewing it once if the server
// answers 401. The caller closes the response body.
func (m *SessionManager) Call(ctx context.Context, req *Request) (*http.Response, error) {
	renewed := false
	for {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		token, generation, err := m.current(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := m.send(ctx, req, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			m.succeeded()
			return resp, nil
		}
		drain(resp)

		if renewed {
			return nil, m.rejected(generation)
		}
		m.logger.Debug("session expired, renewing", zap.String("path", req.Path))
		if err := m.renew(ctx, generation); err != nil {
			return nil, err
		}
		renewed = true
	}
}

func (m *SessionManager) send(ctx context.Context, req *Request, token string) (*http.Response, error) {
	target := m.creds.BaseURL + "/data/" + strings.TrimLeft(req.Path, "/")
	if len(req.Parameters) > 0 {
		target += "?" + req.Parameters.Encode()
	}
	op := req.Method + " " + req.Path

	var body io.ReadCloser
	if req.Body != nil {
		var err error
		if body, err = req.Body(); err != nil {
			return nil, errors.Wrapf(err, "open body of %s", op)
		}
		defer body.Close()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s", op)
	}
	if req.Size > 0 {
		httpReq.ContentLength = req.Size
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.AddCookie(&http.Cookie{Name: constants.SessionCookie, Value: token})

	resp, err := m.client.Do(httpReq)
	if resp != nil {
		// heimdall reports 5xx answers as errors too
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, &entities.TransportError{Op: op, Err: err}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(ioutil.Discard, resp.Body)
	resp.Body.Close()
}

// readBody returns at most the first 512 bytes of the body for error
// messages and closes it.
func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(b))
}
