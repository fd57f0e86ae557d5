package main

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"xnat-importer/constants"
	"xnat-importer/entities"
	"xnat-importer/identity"
	"xnat-importer/importer"
	"xnat-importer/report"
	"xnat-importer/utils"
	"xnat-importer/validation"
	"xnat-importer/validation/xsd"

	"github.com/bsm/redislock"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func runImport(ctx context.Context, root string) int {
	logger := utils.NewLogger(viper.GetString(constants.KeyEnv))
	defer logger.Sync()

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))
	fs := afero.NewOsFs()

	root, err := filepath.Abs(root)
	if err != nil {
		logger.Error("invalid root", zap.Error(err))
		return constants.ExitAborted
	}

	resolver, err := identity.New(viper.GetString(constants.KeyMode), fs)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return constants.ExitNonRetryable
	}

	gate, closeGate, err := newGate(logger)
	if err != nil {
		logger.Error("cannot build validation gate", zap.Error(err))
		return constants.ExitNonRetryable
	}
	defer closeGate()

	locker, closeLocker := newLocker(logger)
	defer closeLocker()

	if timeout := viper.GetDuration(constants.KeyRunTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	imp := importer.New(fs, resolver, gate, locker, importer.Options{
		Workers:       viper.GetInt(constants.KeyWorkers),
		RetryAttempts: viper.GetInt(constants.KeyRetryAttempts),
		RetryDelay:    viper.GetDuration(constants.KeyRetryDelay),
		ConfigName:    viper.GetString(constants.KeyConfigName),
		BaseURL:       viper.GetString(constants.KeyBaseURL),
		RateLimit:     viper.GetFloat64(constants.KeyRateLimit),
		HTTPTimeout:   viper.GetDuration(constants.KeyHTTPTimeout),
		Insecure:      viper.GetBool(constants.KeyInsecureSkipVerify),
	}, logger)

	result, runErr := imp.Run(ctx, root)
	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
	}

	snap := result.Snapshot()
	fmt.Print(report.Summary(snap))
	report.LogSummary(logger, snap)

	failCSV := viper.GetString(constants.KeyFailCSV)
	if err := report.WriteFailFile(fs, failCSV, snap.Failed); err != nil {
		logger.Error("cannot write failure report", zap.Error(err))
	}
	publish(runID, snap, logger)

	switch {
	case runErr != nil:
		return constants.ExitAborted
	case result.HasNonRetryable():
		return constants.ExitNonRetryable
	}
	return constants.ExitOK
}

// newGate builds the validators every structured report has to pass. The
// report is checked against the schema by both libxml2 and xmllint, so a
// missing xmllint binary is a configuration error.
func newGate(logger *zap.Logger) (*validation.Gate, func(), error) {
	schema := viper.GetString(constants.KeySchema)
	name := viper.GetString(constants.KeyXmllint)
	if name == "" {
		return nil, nil, errors.New("no xmllint binary configured")
	}
	binary, err := exec.LookPath(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "xmllint %q", name)
	}

	schemaValidator, err := xsd.NewFromFile(schema)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("validation gate ready", zap.String("schema", schema), zap.String("xmllint", binary))
	return validation.NewGate(logger,
		validation.NewRootElementValidator(viper.GetString(constants.KeyRootElement)),
		schemaValidator,
		validation.NewXmllintValidator(binary, schema),
	), schemaValidator.Close, nil
}

func newLocker(logger *zap.Logger) (importer.Locker, func()) {
	uri := viper.GetString(constants.KeyRedisURI)
	if uri == "" {
		return importer.NoopLocker(), func() {}
	}
	clientRedis := redis.NewClient(&redis.Options{
		Network:    "tcp",
		Addr:       uri,
		MaxRetries: 3,
	})
	locker := importer.NewRedisLocker(redislock.New(clientRedis), viper.GetDuration(constants.KeyLockTTL), logger)
	return locker, func() { clientRedis.Close() }
}

// publish archives the failure report and indexes the outcomes when the
// corresponding backends are configured.
func publish(runID string, snap entities.ResultSnapshot, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if uri := viper.GetString(constants.KeyMinioURI); uri != "" {
		minioClient, err := minio.New(uri, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString(constants.KeyMinioAccessKey), viper.GetString(constants.KeyMinioSecretKey), ""),
			Secure: viper.GetBool(constants.KeyMinioSecure),
		})
		if err != nil {
			logger.Error("cannot connect to minio", zap.Error(err))
		} else if data, err := report.FailuresCSV(snap.Failed); err != nil {
			logger.Error("cannot render failure report", zap.Error(err))
		} else {
			storage := report.NewMinIOStorage(minioClient, viper.GetString(constants.KeyMinioBucket), logger)
			if err := storage.StoreFile(ctx, fmt.Sprintf("fail-%s.csv", runID), data); err != nil {
				logger.Error("cannot archive failure report", zap.Error(err))
			}
		}
	}

	var esAddresses []string
	if esSingleNode := viper.GetString(constants.KeyESURI); esSingleNode != "" {
		esAddresses = []string{esSingleNode}
	} else {
		esAddresses = viper.GetStringSlice(constants.KeyESURIs)
	}
	if len(esAddresses) == 0 {
		return
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: esAddresses})
	if err != nil {
		logger.Error("cannot connect to elasticsearch", zap.Error(err))
		return
	}
	now := time.Now()
	indexer := report.NewOutcomeIndexer(es, viper.GetString(constants.KeyESIndexPrefix), logger)
	if _, err := indexer.Index(ctx, report.Outcomes(runID, snap, now), now); err != nil {
		logger.Error("cannot index outcomes", zap.Error(err))
	}
}
