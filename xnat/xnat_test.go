package xnat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"
	"xnat-importer/retry"
	"xnat-importer/xnat/xnattest"

	"github.com/gojektech/heimdall/v6"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	experiment = "projects/P1/subjects/S1/experiments/S1_2024-01-15"
	scan       = experiment + "/scans/3"
)

func rawParams(files ...string) entities.ImportParameters {
	return entities.ImportParameters{
		Dir:             "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM",
		ProjectID:       "P1",
		SubjectID:       "S1",
		SessionID:       "S1_2024-01-15",
		SessionDataType: constants.SessionDataTypeRaw,
		ScanID:          "3",
		DataType:        "mr",
		XnatScanType:    "mrScanData",
		ScanDataType:    constants.ResourceDICOM,
		SessionDate:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		FileNames:       files,
	}
}

func reconParams(files ...string) entities.ImportParameters {
	p := rawParams(files...)
	p.SessionDataType = constants.SessionDataTypeRecon
	return p
}

func newManager(srv *xnattest.Server) *SessionManager {
	client := NewHTTPClient(5*time.Second, true, nil)
	return NewSessionManager(Credentials{BaseURL: srv.URL, Username: srv.Username, Password: srv.Password}, client, nil, nil)
}

func get(t *testing.T, m *SessionManager, path string) int {
	resp, err := m.Call(context.Background(), &Request{Method: http.MethodGet, Path: path})
	require.NoError(t, err)
	drain(resp)
	return resp.StatusCode
}

type stubChecker struct {
	err   error
	calls int
}

func (c *stubChecker) Check(ctx context.Context, file string, content []byte) error {
	c.calls++
	return c.err
}

func TestSessionRenewal(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	m := newManager(srv)

	assert.Equal(t, http.StatusNotFound, get(t, m, "projects/P1"))
	assert.Equal(t, 1, srv.Logins())

	srv.ExpireSessions()
	assert.Equal(t, http.StatusNotFound, get(t, m, "projects/P1"))
	assert.Equal(t, 2, srv.Logins(), "expired session is renewed once and the request re-issued")
}

func TestConcurrentRenewal(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	m := newManager(srv)

	get(t, m, "projects/P1")
	srv.ExpireSessions()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Call(context.Background(), &Request{Method: http.MethodGet, Path: "projects/P1"})
			if assert.NoError(t, err) {
				drain(resp)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, srv.Logins())
}

// gatedDoer holds every data request until n of them are in flight.
type gatedDoer struct {
	heimdall.Doer
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func (d *gatedDoer) Do(req *http.Request) (*http.Response, error) {
	if !strings.HasSuffix(req.URL.Path, "/JSESSION") {
		d.mu.Lock()
		d.waiting--
		if d.waiting == 0 {
			close(d.release)
		}
		d.mu.Unlock()
		<-d.release
	}
	return d.Doer.Do(req)
}

func TestConcurrentRenewalFailureCountedOnce(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	const callers = 4
	client := &gatedDoer{Doer: NewHTTPClient(5*time.Second, true, nil), waiting: callers, release: make(chan struct{})}
	m := NewSessionManager(Credentials{BaseURL: srv.URL, Username: srv.Username, Password: srv.Password}, client, nil, nil)
	ctx := context.Background()

	_, err := m.Authenticate(ctx)
	require.NoError(t, err)
	srv.RejectLogin(true)
	srv.ExpireSessions()

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		var authErr *entities.AuthError
		require.True(t, errors.As(err, &authErr))
		assert.False(t, authErr.Fatal, "one expiry is one failure")
	}
	assert.Equal(t, 2, srv.Count(http.MethodPost, "JSESSION"), "a single renewal is attempted")

	_, err = m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	assert.True(t, entities.IsFatal(err), "the next failed login reaches the cap")
}

func TestFatalAuth(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	srv.RejectLogin(true)
	m := newManager(srv)
	ctx := context.Background()

	_, err := m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	var authErr *entities.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.False(t, authErr.Fatal)

	_, err = m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	assert.True(t, entities.IsFatal(err))
	assert.True(t, entities.IsPermanent(err))

	srv.RejectLogin(false)
	_, err = m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	assert.True(t, entities.IsFatal(err), "the run stays aborted once the cap is reached")
}

func TestAuthFailuresReset(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	m := newManager(srv)
	ctx := context.Background()

	srv.RejectLogin(true)
	_, err := m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	require.Error(t, err)
	assert.False(t, entities.IsFatal(err))

	srv.RejectLogin(false)
	assert.Equal(t, http.StatusNotFound, get(t, m, "projects/P1"))

	srv.RejectLogin(true)
	srv.ExpireSessions()
	_, err = m.Call(ctx, &Request{Method: http.MethodGet, Path: "projects/P1"})
	require.Error(t, err)
	assert.False(t, entities.IsFatal(err), "a successful call resets the failure count")
}

func TestSyncRaw(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)
	p := rawParams()

	require.NoError(t, s.Sync(context.Background(), p))
	for _, path := range []string{
		"projects/P1",
		"projects/P1/subjects/S1",
		experiment,
		scan,
		scan + "/resources/DICOM",
		scan + "/resources/METADATA",
	} {
		assert.Equal(t, 1, srv.Creates(path), path)
	}

	{
		q := srv.Query(experiment)
		assert.Equal(t, "xnat:mrSessionData", q.Get("xsiType"))
		assert.Equal(t, "2024-01-15", q.Get("xnat:mrSessionData/date"))
	}
	{
		assert.Equal(t, "xnat:mrScanData", srv.Query(scan).Get("xsiType"))
	}
	{
		q := srv.Query(scan + "/resources/DICOM")
		assert.Equal(t, "DICOM", q.Get("format"))
		assert.Equal(t, "DICOM_RAW", q.Get("content"))
		assert.Equal(t, "XML", srv.Query(scan+"/resources/METADATA").Get("format"))
	}

	require.NoError(t, s.Sync(context.Background(), p))
	assert.Equal(t, 1, srv.Creates("projects/P1"), "existing entities are not created again")
	assert.Equal(t, 1, srv.Creates(scan+"/resources/DICOM"))
}

func TestSyncConflictIsSuccess(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	srv.Seed("projects/P1")
	srv.FailNext(http.MethodGet, "projects/P1", http.StatusNotFound)
	s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)

	require.NoError(t, s.Sync(context.Background(), rawParams()))
	assert.Equal(t, 0, srv.Creates("projects/P1"))
	assert.Equal(t, 1, srv.Creates(scan))
}

func TestSyncExistingRawScan(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	srv.Seed("projects/P1", "projects/P1/subjects/S1", experiment, scan)
	s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)

	require.NoError(t, s.Sync(context.Background(), rawParams()))
	assert.False(t, srv.Exists(scan+"/resources/DICOM"))
	assert.False(t, srv.Exists(scan+"/resources/METADATA"))
}

func TestSyncRecon(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	srv.Seed("projects/P1", "projects/P1/subjects/S1", experiment, scan)
	s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)

	require.NoError(t, s.Sync(context.Background(), reconParams()))
	recon := scan + "/reconstructions/3/resources/NIFTI"
	assert.True(t, srv.Exists(recon), "reconstruction resource is ensured even for an existing scan")
	assert.Equal(t, "NIFTI", srv.Query(recon).Get("format"))
	assert.False(t, srv.Exists(scan+"/resources/DICOM"))
}

func TestSyncRetry(t *testing.T) {
	{
		srv := xnattest.NewServer("admin", "secret")
		srv.FailNext(http.MethodPut, "projects/P1", http.StatusInternalServerError)
		s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)

		assert.NoError(t, s.Sync(context.Background(), rawParams()))
		assert.True(t, srv.Exists("projects/P1"))
		srv.Close()
	}
	{
		srv := xnattest.NewServer("admin", "secret")
		srv.FailNext(http.MethodPut, "projects/P1", 500, 500, 500)
		s := NewSynchronizer(newManager(srv), retry.NewDriver(0, nil), 3, nil)

		err := s.Sync(context.Background(), rawParams())
		var syncErr *entities.SyncError
		require.True(t, errors.As(err, &syncErr))
		assert.Equal(t, constants.LevelProject, syncErr.Level)
		assert.Equal(t, 500, syncErr.Status)
		assert.False(t, srv.Exists("projects/P1/subjects/S1"), "later levels are not attempted")
		srv.Close()
	}
}

func TestBucket(t *testing.T) {
	assert.Equal(t, "DICOM", Bucket("/a/DICOM/x.dcm"))
	assert.Equal(t, "METADATA", Bucket("/a/METADATA/x.xml"))
	assert.Equal(t, "OTHERS", Bucket("/a/notes/x.xml"))
	assert.Equal(t, "OTHERS", Bucket("/a/dicom/x.dcm"))
}

func TestUploadAll(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	dcm := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM/a.dcm"
	report := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/METADATA/r.xml"
	require.NoError(t, afero.WriteFile(fs, dcm, []byte("dicom bytes"), 0644))
	require.NoError(t, afero.WriteFile(fs, report, []byte("<ImageAnnotationCollection/>"), 0644))

	checker := &stubChecker{}
	u := NewUploader(newManager(srv), fs, checker, retry.NewDriver(0, nil), 3, nil)
	p := rawParams(dcm, report)

	result := entities.NewImportResult()
	require.NoError(t, u.UploadAll(context.Background(), p, result))
	uploaded, exists, failed := result.Counts()
	assert.Equal(t, 2, uploaded)
	assert.Equal(t, 0, exists)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(len("dicom bytes")+len("<ImageAnnotationCollection/>")), result.Snapshot().Bytes)
	assert.Equal(t, 1, checker.calls)

	remote := scan + "/resources/DICOM/files/a.dcm"
	body, ok := srv.File(remote)
	require.True(t, ok)
	assert.Equal(t, "dicom bytes", string(body))
	assert.Equal(t, "a.dcm", srv.Query(remote).Get("file"))
	_, ok = srv.File(scan + "/resources/METADATA/files/r.xml")
	assert.True(t, ok)

	again := entities.NewImportResult()
	require.NoError(t, u.UploadAll(context.Background(), p, again))
	uploaded, exists, _ = again.Counts()
	assert.Equal(t, 0, uploaded)
	assert.Equal(t, 2, exists)
	assert.Equal(t, 1, srv.Creates(remote), "a file already on the server is never sent again")
}

func TestUploadValidationFailure(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	report := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/METADATA/bad.xml"
	require.NoError(t, afero.WriteFile(fs, report, []byte("<Other/>"), 0644))

	checker := &stubChecker{err: &entities.ValidationFailed{File: report, Diagnostics: []string{"root: unexpected"}}}
	u := NewUploader(newManager(srv), fs, checker, retry.NewDriver(0, nil), 3, nil)

	result := entities.NewImportResult()
	require.NoError(t, u.UploadAll(context.Background(), rawParams(report), result))

	snap := result.Snapshot()
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, report, snap.Failed[0].File)
	assert.Equal(t, entities.KindValidation, snap.Failed[0].Kind)
	assert.True(t, result.HasNonRetryable())
	assert.Equal(t, 1, checker.calls, "validation failures are not retried")
	assert.Equal(t, 0, srv.Count(http.MethodPut, scan+"/resources/METADATA/files/"))
}

func TestUploadOthersSkipsValidation(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	file := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/notes/n.xml"
	require.NoError(t, afero.WriteFile(fs, file, []byte("<x/>"), 0644))

	checker := &stubChecker{err: errors.New("must not be called")}
	u := NewUploader(newManager(srv), fs, checker, retry.NewDriver(0, nil), 3, nil)

	outcome, err := u.Upload(context.Background(), file, rawParams(file))
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomeUploaded, outcome)
	assert.Equal(t, 0, checker.calls)
	_, ok := srv.File(scan + "/resources/OTHERS/files/n.xml")
	assert.True(t, ok)
}

func TestUploadRecon(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	file := "/data/projects/P1/S1/2024-01-15/RECON/3/mr/METADATA/seg.xml"
	require.NoError(t, afero.WriteFile(fs, file, []byte("volume"), 0644))

	checker := &stubChecker{err: errors.New("must not be called")}
	u := NewUploader(newManager(srv), fs, checker, retry.NewDriver(0, nil), 3, nil)

	outcome, err := u.Upload(context.Background(), file, reconParams(file))
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomeUploaded, outcome)
	assert.Equal(t, 0, checker.calls)
	remote := scan + "/reconstructions/3/resources/NIFTI/files/seg.xml"
	_, ok := srv.File(remote)
	assert.True(t, ok)
	assert.Equal(t, 0, srv.Count(http.MethodGet, remote), "no existence probe for reconstructions")

	outcome, err = u.Upload(context.Background(), file, reconParams(file))
	require.NoError(t, err)
	assert.Equal(t, entities.OutcomeAlreadyExists, outcome, "conflict on upload means the file is already there")
}

func TestUploadRetriesTransportErrors(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	dcm := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM/a.dcm"
	require.NoError(t, afero.WriteFile(fs, dcm, []byte("dicom"), 0644))
	remote := scan + "/resources/DICOM/files/a.dcm"

	{
		srv.FailNext(http.MethodPut, remote, http.StatusBadGateway)
		u := NewUploader(newManager(srv), fs, nil, retry.NewDriver(0, nil), 3, nil)
		result := entities.NewImportResult()
		require.NoError(t, u.UploadAll(context.Background(), rawParams(dcm), result))
		uploaded, _, failed := result.Counts()
		assert.Equal(t, 1, uploaded)
		assert.Equal(t, 0, failed)
	}
	{
		other := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM/b.dcm"
		require.NoError(t, afero.WriteFile(fs, other, []byte("dicom"), 0644))
		otherRemote := scan + "/resources/DICOM/files/b.dcm"
		srv.FailNext(http.MethodPut, otherRemote, 502, 502, 502)
		u := NewUploader(newManager(srv), fs, nil, retry.NewDriver(0, nil), 3, nil)
		result := entities.NewImportResult()
		require.NoError(t, u.UploadAll(context.Background(), rawParams(other), result))
		snap := result.Snapshot()
		require.Len(t, snap.Failed, 1)
		assert.Equal(t, entities.KindTransport, snap.Failed[0].Kind)
		assert.False(t, result.HasNonRetryable())
	}
}

func TestUploadAllAbortsOnFatalAuth(t *testing.T) {
	srv := xnattest.NewServer("admin", "secret")
	defer srv.Close()
	fs := afero.NewMemMapFs()
	a := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM/a.dcm"
	b := "/data/projects/P1/S1/2024-01-15/RAW/3/mr/DICOM/b.dcm"
	require.NoError(t, afero.WriteFile(fs, a, []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, b, []byte("b"), 0644))
	srv.RejectLogin(true)

	u := NewUploader(newManager(srv), fs, nil, retry.NewDriver(0, nil), 3, nil)
	result := entities.NewImportResult()
	err := u.UploadAll(context.Background(), rawParams(a, b), result)
	assert.True(t, entities.IsFatal(err))
	snap := result.Snapshot()
	require.Len(t, snap.Failed, 2)
	assert.Equal(t, entities.KindAuth, snap.Failed[0].Kind)
	assert.Equal(t, b, snap.Failed[1].File)
	assert.Equal(t, entities.KindAborted, snap.Failed[1].Kind, "files after the fatal failure are never attempted")
	assert.Equal(t, 0, srv.Count(http.MethodGet, "projects/P1"))
}
