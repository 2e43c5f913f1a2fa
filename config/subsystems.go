package config

import "time"

// Mode selects the runtime environment (affects default log encoder/level).
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// AppInfo carries the process identity and its working directory (log
// files and the temp config file live under Dir).
type AppInfo struct {
	Name string `json:"name" mapstructure:"name" ini:"name" yaml:"name" default:"querygate"`
	Mode Mode   `json:"mode" mapstructure:"mode" ini:"mode" yaml:"mode" default:"dev"`
	Dir  string `json:"dir" mapstructure:"dir" ini:"dir" yaml:"dir"`
}

func (a *AppInfo) setDefault() {
	cv.SetDefault("app.name", "querygate")
	cv.SetDefault("app.mode", ModeDev)
	cv.SetDefault("app.dir", ".")
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host            string        `json:"host" mapstructure:"host" ini:"host" yaml:"host"`
	Port            int           `json:"port" mapstructure:"port" ini:"port" yaml:"port"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout" ini:"request_timeout" yaml:"request_timeout"`
	MaxRequestBytes int64         `json:"max_request_bytes" mapstructure:"max_request_bytes" ini:"max_request_bytes" yaml:"max_request_bytes"`

	// TrustedProxies, when non-empty, both enables the IP filter middleware
	// and tells it which proxy hops to trust when extracting the real
	// client IP from X-Forwarded-For.
	TrustedProxies []string `json:"trusted_proxies" mapstructure:"trusted_proxies" ini:"trusted_proxies" yaml:"trusted_proxies"`
	// BlockedIPs lists IP addresses or CIDR ranges always denied once the
	// IP filter is enabled.
	BlockedIPs []string `json:"blocked_ips" mapstructure:"blocked_ips" ini:"blocked_ips" yaml:"blocked_ips"`
}

func (s *Server) setDefault() {
	cv.SetDefault("server.host", "0.0.0.0")
	cv.SetDefault("server.port", 8080)
	cv.SetDefault("server.request_timeout", 30*time.Second)
	cv.SetDefault("server.max_request_bytes", 10<<20)
}

// Database selects and tunes the live SQL connection (spec.md §6:
// DB_SECRET_NAME/DB_ENGINE/DB_SCHEMA).
type Database struct {
	SecretName         string        `json:"secret_name" mapstructure:"secret_name" ini:"secret_name" yaml:"secret_name"`
	Engine             string        `json:"engine" mapstructure:"engine" ini:"engine" yaml:"engine"`
	Schema             string        `json:"schema" mapstructure:"schema" ini:"schema" yaml:"schema"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" mapstructure:"slow_query_threshold" ini:"slow_query_threshold" yaml:"slow_query_threshold"`
	MaxOpenConns       int           `json:"max_open_conns" mapstructure:"max_open_conns" ini:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns       int           `json:"max_idle_conns" mapstructure:"max_idle_conns" ini:"max_idle_conns" yaml:"max_idle_conns"`
}

func (d *Database) setDefault() {
	cv.SetDefault("database.engine", "postgresql")
	cv.SetDefault("database.slow_query_threshold", 200*time.Millisecond)
	cv.SetDefault("database.max_open_conns", 20)
	cv.SetDefault("database.max_idle_conns", 5)
}

// Sqlite configures the embedded/file-backed dialect, used mainly for tests
// and single-node deployments.
type Sqlite struct {
	Path string `json:"path" mapstructure:"path" ini:"path" yaml:"path" default:"querygate.db"`
}

func (s *Sqlite) setDefault() {
	cv.SetDefault("sqlite.path", "querygate.db")
}

// Postgres configures a live gorm.io/driver/postgres connection
// (DB_ENGINE=postgresql).
type Postgres struct {
	Host     string `json:"host" mapstructure:"host" ini:"host" yaml:"host"`
	Port     int    `json:"port" mapstructure:"port" ini:"port" yaml:"port" default:"5432"`
	Database string `json:"database" mapstructure:"database" ini:"database" yaml:"database"`
	Username string `json:"username" mapstructure:"username" ini:"username" yaml:"username"`
	Password string `json:"password" mapstructure:"password" ini:"password" yaml:"password"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode" ini:"sslmode" yaml:"sslmode" default:"disable"`
}

func (p *Postgres) setDefault() {
	cv.SetDefault("postgres.port", 5432)
	cv.SetDefault("postgres.sslmode", "disable")
}

// MySQL configures a live gorm.io/driver/mysql connection (DB_ENGINE=mysql).
type MySQL struct {
	Host     string `json:"host" mapstructure:"host" ini:"host" yaml:"host"`
	Port     int    `json:"port" mapstructure:"port" ini:"port" yaml:"port" default:"3306"`
	Database string `json:"database" mapstructure:"database" ini:"database" yaml:"database"`
	Username string `json:"username" mapstructure:"username" ini:"username" yaml:"username"`
	Password string `json:"password" mapstructure:"password" ini:"password" yaml:"password"`
}

func (m *MySQL) setDefault() {
	cv.SetDefault("mysql.port", 3306)
}

// Auth configures how claims are validated and how coarsely scope
// enforcement gates a request before the permission resolver's
// fine-grained checks run (spec.md §6, Open Question on scope enforcement).
type Auth struct {
	JWKSHost            string   `json:"jwks_host" mapstructure:"jwks_host" ini:"jwks_host" yaml:"jwks_host"`
	JWTIssuer           string   `json:"jwt_issuer" mapstructure:"jwt_issuer" ini:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAllowedAudiences []string `json:"jwt_allowed_audiences" mapstructure:"jwt_allowed_audiences" ini:"jwt_allowed_audiences" yaml:"jwt_allowed_audiences"`
	JWTAlgorithms       []string `json:"jwt_algorithms" mapstructure:"jwt_algorithms" ini:"jwt_algorithms" yaml:"jwt_algorithms"`
	ScopeEnforcement    bool     `json:"scope_enforcement" mapstructure:"scope_enforcement" ini:"scope_enforcement" yaml:"scope_enforcement"`
}

func (a *Auth) setDefault() {
	cv.SetDefault("auth.jwt_algorithms", []string{"RS256"})
	cv.SetDefault("auth.scope_enforcement", true)
}

// Logger configures the rotating zap sink shared by every named subsystem
// logger (logger/zap.Runtime, .Database, .Service, .Router, .Batch, .Gin).
type Logger struct {
	File       string `json:"file" mapstructure:"file" ini:"file" yaml:"file" default:"/dev/stdout"`
	Level      string `json:"level" mapstructure:"level" ini:"level" yaml:"level" default:"info"`
	Format     string `json:"format" mapstructure:"format" ini:"format" yaml:"format" default:"json"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age" ini:"max_age" yaml:"max_age" default:"7"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size" ini:"max_size" yaml:"max_size" default:"100"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" ini:"max_backups" yaml:"max_backups" default:"10"`
}

func (l *Logger) setDefault() {
	cv.SetDefault("logger.file", "/dev/stdout")
	cv.SetDefault("logger.level", "info")
	cv.SetDefault("logger.format", "json")
	cv.SetDefault("logger.max_age", 7)
	cv.SetDefault("logger.max_size", 100)
	cv.SetDefault("logger.max_backups", 10)
}

// Batch holds paging and batch settings. DefaultPageSize is the read
// handler's __limit default (env DEFAULT_PAGE_SIZE). MaxSize and
// AtomicByDefault are not read: the Batch Orchestrator uses
// consts.MaxBatchSize and operation.DefaultBatchOptions instead.
type Batch struct {
	MaxSize         int  `json:"max_size" mapstructure:"max_size" ini:"max_size" yaml:"max_size" default:"100"`
	DefaultPageSize int  `json:"default_page_size" mapstructure:"default_page_size" ini:"default_page_size" yaml:"default_page_size" default:"50"`
	AtomicByDefault bool `json:"atomic_by_default" mapstructure:"atomic_by_default" ini:"atomic_by_default" yaml:"atomic_by_default" default:"true"`
}

func (b *Batch) setDefault() {
	cv.SetDefault("batch.max_size", 100)
	cv.SetDefault("batch.default_page_size", 50)
	cv.SetDefault("batch.atomic_by_default", true)
}

// SpecDocument locates the OpenAPI-like schema + permission/relationship
// metadata file internal/apimodel loads and, optionally, watches for
// hot-reload (spec.md §2, §5).
type SpecDocument struct {
	Path         string        `json:"path" mapstructure:"path" ini:"path" yaml:"path" default:"spec/api.yaml"`
	WatchFile    bool          `json:"watch_file" mapstructure:"watch_file" ini:"watch_file" yaml:"watch_file"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" ini:"poll_interval" yaml:"poll_interval" default:"30s"`
}

func (s *SpecDocument) setDefault() {
	cv.SetDefault("spec_document.path", "spec/api.yaml")
	cv.SetDefault("spec_document.watch_file", false)
	cv.SetDefault("spec_document.poll_interval", 30*time.Second)
}
