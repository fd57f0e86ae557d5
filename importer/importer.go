// Package importer walks a data root and imports every directory in it.
package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"
	"xnat-importer/identity"
	"xnat-importer/retry"
	"xnat-importer/utils"
	"xnat-importer/xnat"

	"github.com/dustin/go-humanize"
	"github.com/gojektech/heimdall/v6"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers       int
	RetryAttempts int
	RetryDelay    time.Duration
	ConfigName    string
	// BaseURL is used by directories whose config does not name a server.
	BaseURL string
	// RateLimit caps outbound requests per second, 0 means unlimited.
	RateLimit   float64
	HTTPTimeout time.Duration
	Insecure    bool
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = constants.DefaultRetryAttempts
	}
	if o.ConfigName == "" {
		o.ConfigName = constants.DefaultConfigName
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = constants.DefaultHTTPTimeout
	}
	return o
}

type leaf struct {
	dir   string
	files []string
}

// Importer runs the import of a data root. Session managers are shared by
// every directory using the same account.
type Importer struct {
	fs       afero.Fs
	resolver identity.Resolver
	checker  xnat.ReportChecker
	locker   Locker
	driver   *retry.Driver
	client   heimdall.Doer
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*xnat.SessionManager
}

func New(fs afero.Fs, resolver identity.Resolver, checker xnat.ReportChecker, locker Locker, opts Options, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NoopLocker()
	}
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Importer{
		fs:       fs,
		resolver: resolver,
		checker:  checker,
		locker:   locker,
		driver:   retry.NewDriver(opts.RetryDelay, logger),
		client:   xnat.NewHTTPClient(opts.HTTPTimeout, opts.Insecure, logger),
		limiter:  limiter,
		opts:     opts,
		logger:   logger,
		sessions: map[string]*xnat.SessionManager{},
	}
}

// Run imports every non-hidden directory of root. The returned error is
// set only when the run was aborted; per-file failures are in the result.
func (imp *Importer) Run(ctx context.Context, root string) (*entities.ImportResult, error) {
	result := entities.NewImportResult()
	start := time.Now()

	dirs, _, err := utils.ReadDir(imp.fs, root)
	if err != nil {
		return result, errors.Wrapf(err, "read root %s", root)
	}
	var topLevel []string
	for _, d := range dirs {
		if !utils.IsHidden(d) {
			topLevel = append(topLevel, filepath.Join(root, d))
		}
	}
	imp.logger.Info("import started",
		zap.String("root", root),
		zap.Int("directories", len(topLevel)),
		zap.Int("workers", imp.opts.Workers))

	var (
		startedMu sync.Mutex
		started   = map[string]bool{}
	)
	err = runQueue(ctx, topLevel, imp.opts.Workers, func(ctx context.Context, dir string) error {
		startedMu.Lock()
		started[dir] = true
		startedMu.Unlock()
		return imp.importDirectory(ctx, dir, result)
	})
	if err != nil {
		for _, dir := range topLevel {
			if !started[dir] {
				result.AddAborted([]string{dir}, err)
			}
		}
	}

	uploaded, exists, failed := result.Counts()
	imp.logger.Info("import finished",
		zap.String("uploaded", humanize.Comma(int64(uploaded))),
		zap.String("already_exists", humanize.Comma(int64(exists))),
		zap.String("failed", humanize.Comma(int64(failed))),
		zap.String("bytes", humanize.Bytes(uint64(result.Snapshot().Bytes))),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return result, err
}

func (imp *Importer) importDirectory(ctx context.Context, dir string, result *entities.ImportResult) error {
	logger := imp.logger.With(zap.String("dir", dir))

	cfg, err := LoadDirConfig(imp.fs, filepath.Join(dir, imp.opts.ConfigName), imp.opts.BaseURL)
	if err != nil {
		logger.Error("skipping directory", zap.Error(err))
		result.AddFailed(dir, err)
		return nil
	}

	release, err := imp.locker.Obtain(ctx, cfg.BaseURL+"|"+filepath.Base(dir))
	if err != nil {
		logger.Error("skipping directory", zap.Error(err))
		result.AddFailed(dir, err)
		return nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.Warn("release lock", zap.Error(err))
		}
	}()

	leaves, err := imp.leaves(dir)
	if err != nil {
		logger.Error("skipping directory", zap.Error(err))
		result.AddFailed(dir, err)
		return nil
	}

	caller := imp.session(cfg)
	synchronizer := xnat.NewSynchronizer(caller, imp.driver, imp.opts.RetryAttempts, logger)
	uploader := xnat.NewUploader(caller, imp.fs, imp.checker, imp.driver, imp.opts.RetryAttempts, logger)

	for i, l := range leaves {
		if err := ctx.Err(); err != nil {
			abortLeaves(result, leaves[i:], err)
			return err
		}
		if err := imp.importLeaf(ctx, l, synchronizer, uploader, result); err != nil {
			abortLeaves(result, leaves[i+1:], err)
			return err
		}
	}
	return nil
}

// importLeaf resolves, syncs and uploads one directory of files. Only an
// error that aborts the run is returned.
func (imp *Importer) importLeaf(ctx context.Context, l leaf, synchronizer *xnat.Synchronizer, uploader *xnat.Uploader, result *entities.ImportResult) (err error) {
	logger := imp.logger.With(zap.String("leaf", l.dir))
	files := utils.JoinAll(l.dir, l.files)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while importing", zap.Any("panic", r), zap.Stack("stack"))
			failAll(result, files, fmt.Errorf("internal error: %v", r))
			err = nil
		}
	}()

	p, err := imp.resolver.Resolve(ctx, l.dir, l.files)
	if err != nil {
		logger.Error("cannot resolve identity", zap.Error(err))
		failAll(result, files, err)
		return nil
	}

	if err := synchronizer.Sync(ctx, p); err != nil {
		failAll(result, p.FileNames, err)
		if entities.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		return nil
	}
	return uploader.UploadAll(ctx, p, result)
}

// leaves walks dir breadth first and returns every directory below it that
// holds importable files.
func (imp *Importer) leaves(dir string) ([]leaf, error) {
	var out []leaf
	queue := []string{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dirs, files, err := utils.ReadDir(imp.fs, current)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", current)
		}
		for _, d := range dirs {
			if !utils.IsHidden(d) {
				queue = append(queue, filepath.Join(current, d))
			}
		}
		if current == dir {
			continue
		}

		var kept []string
		for _, f := range files {
			if !utils.IsHousekeeping(f) {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			out = append(out, leaf{dir: current, files: kept})
		}
	}
	return out, nil
}

func (imp *Importer) session(cfg DirConfig) *xnat.SessionManager {
	creds := xnat.Credentials{BaseURL: cfg.BaseURL, Username: cfg.Username, Password: cfg.Password}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	if m, ok := imp.sessions[creds.Key()]; ok {
		return m
	}
	m := xnat.NewSessionManager(creds, imp.client, imp.limiter, imp.logger)
	imp.sessions[creds.Key()] = m
	return m
}

func abortLeaves(result *entities.ImportResult, leaves []leaf, cause error) {
	for _, l := range leaves {
		result.AddAborted(utils.JoinAll(l.dir, l.files), cause)
	}
}

func failAll(result *entities.ImportResult, files []string, err error) {
	for _, f := range files {
		result.AddFailed(f, err)
	}
}
