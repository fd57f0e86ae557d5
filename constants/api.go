package constants

import "time"

const (
	ENV = "API_ENV"

	EnvDevelopment = "DEVELOPMENT"

	DefaultBaseURL    = "https://dmxnat.nchc.org.tw"
	DefaultSchemaPath = "data/AIM_v4_rv44_XML.xsd"
	DefaultRootName   = "ImageAnnotationCollection"
	DefaultConfigName = "config.ini"
	DefaultFailCSV    = "fail.csv"
	DefaultXmllint    = "xmllint"

	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultHTTPTimeout   = 60 * time.Second
	DefaultLockTTL       = 30 * time.Minute

	// MaxAuthFailures is the number of consecutive authentication failures
	// after which a run is aborted.
	MaxAuthFailures = 2

	ModePath    = "path"
	ModeContent = "content"

	ProjectsAnchor = "projects"

	SessionDataTypeRaw   = "RAW"
	SessionDataTypeRecon = "RECON"

	DataTypeCR    = "cr"
	DataTypeCT    = "ct"
	DataTypeMR    = "mr"
	DataTypeHD    = "hd"
	DataTypeOther = "otherDicom"

	ScanDataSuffix    = "ScanData"
	SessionDataSuffix = "SessionData"

	ResourceDICOM    = "DICOM"
	ResourceMetadata = "METADATA"
	ResourceOthers   = "OTHERS"
	ResourceNIFTI    = "NIFTI"

	FormatDICOM = "DICOM"
	FormatXML   = "XML"
	FormatNIFTI = "NIFTI"

	RawContentSuffix = "_RAW"
	ReportSuffix     = ".xml"

	SessionCookie = "JSESSIONID"
	ContentText   = "text/plain"

	LevelProject    = "project"
	LevelSubject    = "subject"
	LevelExperiment = "experiment"
	LevelScan       = "scan"
	LevelResource   = "resource"
)

// Configuration keys.
const (
	KeyEnv = "workspace.env"

	KeyBaseURL            = "xnat.base_url"
	KeyHTTPTimeout        = "xnat.timeout"
	KeyRateLimit          = "xnat.rate_limit"
	KeyInsecureSkipVerify = "xnat.insecure_skip_verify"

	KeyMode          = "importer.mode"
	KeyWorkers       = "importer.workers"
	KeyRetryAttempts = "importer.retry_attempts"
	KeyRetryDelay    = "importer.retry_delay"
	KeyRunTimeout    = "importer.timeout"
	KeyConfigName    = "importer.config_name"

	KeySchema      = "validation.schema"
	KeyRootElement = "validation.root_element"
	KeyXmllint     = "validation.xmllint"

	KeyFailCSV = "report.fail_csv"

	KeyRedisURI = "redis.uri"
	KeyLockTTL  = "redis.lock_ttl"

	KeyMinioURI       = "minio.uri"
	KeyMinioAccessKey = "minio.access_key_id"
	KeyMinioSecretKey = "minio.secret_access_key"
	KeyMinioBucket    = "minio.bucket_name"
	KeyMinioSecure    = "minio.secure"

	KeyESURI         = "elasticsearch.uri"
	KeyESURIs        = "elasticsearch.uris"
	KeyESIndexPrefix = "elasticsearch.outcome_index_prefix"

	// keys of the per-directory config.ini
	KeyDirUsername = "xnat.username"
	KeyDirPassword = "xnat.password"
	KeyDirBaseURL  = "xnat.base_url"
)

// Exit codes of the CLI.
const (
	ExitOK           = 0
	ExitAborted      = 1
	ExitNonRetryable = 2
)
