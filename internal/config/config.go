// config предоставляет структуру конфигурации краулера
// и функции загрузки из YAML/ENV с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrInvalidConfig — конфигурация отсутствует или некорректна.
// Запуск прерывается до любых сетевых операций.
var ErrInvalidConfig = errors.New("invalid config")

// Поддерживаемые драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Поддерживаемые драйверы резервных копий.
const (
	BackupFile = "file"
	BackupS3   = "s3"
)

// Config — корневая конфигурация краулера.
// Приоритет источников:
//  1. явный путь, переданный в MustLoad/Load;
//  2. переменная окружения CONFIG_PATH;
//  3. файл ./local.yaml из рабочей директории;
//  4. переменные окружения.
type Config struct {
	Env        string           `yaml:"env"    env:"ENV"    env-default:"local"`
	Source     string           `yaml:"source" env:"SOURCE" env-default:"TechCrunch"`
	Feed       FeedConfig       `yaml:"feed"`
	Extract    ExtractConfig    `yaml:"extract"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	HTTPClient HTTPClientConfig `yaml:"http_client"`
	Retry      RetryConfig      `yaml:"retry"`
	Dedup      DedupConfig      `yaml:"dedup"`
	DB         DBConfig         `yaml:"db"`
	Backup     BackupConfig     `yaml:"backup"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	HTTP       HTTPConfig       `yaml:"http"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
}

// FeedConfig — параметры постраничного обхода ленты.
type FeedConfig struct {
	// BaseURL — первая страница ленты; страница n>1 — BaseURL + "page/<n>/".
	BaseURL string `yaml:"base_url" env:"FEED_URL" env-default:"https://techcrunch.com/latest/"`
	// MaxPages — верхняя граница числа страниц за проход.
	MaxPages int `yaml:"max_pages" env:"MAX_PAGES" env-default:"999"`
	// MaxArticles — сколько записей листинга передаётся дальше; 0 — без ограничения.
	MaxArticles int `yaml:"max_articles" env:"MAX_ARTICLES"`
	// WindowHours — окно свежести в часах, 0 отключает фильтрацию.
	// Дефолт 24 задаётся в defaults().
	WindowHours int `yaml:"window_hours" env:"HOURS"`
	// PageDelay — пауза между последовательными запросами страниц.
	PageDelay time.Duration `yaml:"page_delay" env:"PAGE_DELAY" env-default:"2s"`
}

// Window возвращает окно свежести как длительность.
func (f FeedConfig) Window() time.Duration {
	return time.Duration(f.WindowHours) * time.Hour
}

// ExtractConfig — правила извлечения записей и текста из HTML.
type ExtractConfig struct {
	// MinContentLength — текст короче или равный порогу считается промахом извлечения.
	MinContentLength int `yaml:"min_content_length" env:"MIN_CONTENT_LENGTH" env-default:"100"`
	// ItemClass — CSS-класс элемента списка статей.
	ItemClass string `yaml:"item_class" env:"EXTRACT_ITEM_CLASS" env-default:"wp-block-post"`
	// TitleHrefContains — подстрока href, по которой находится ссылка-заголовок.
	TitleHrefContains string `yaml:"title_href_contains" env:"EXTRACT_TITLE_HREF" env-default:"techcrunch.com/20"`
}

// EnrichConfig — параметры пула догрузки контента.
type EnrichConfig struct {
	Concurrency int `yaml:"concurrency" env:"ENRICH_CONCURRENCY" env-default:"3"`
}

// HTTPClientConfig — общие настройки исходящих HTTP-запросов.
type HTTPClientConfig struct {
	Timeout   time.Duration `yaml:"timeout"    env:"HTTP_CLIENT_TIMEOUT" env-default:"30s"`
	UserAgent string        `yaml:"user_agent" env:"HTTP_USER_AGENT"     env-default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
	// RateLimit — запросов в секунду на все воркеры; 0 — без ограничения.
	RateLimit float64 `yaml:"rate_limit" env:"HTTP_RATE_LIMIT" env-default:"0"`
}

// RetryConfig — политики повторов. Значения по умолчанию совпадают
// с исторически зашитыми константами.
type RetryConfig struct {
	Fetch  FetchRetryConfig  `yaml:"fetch"`
	Upload UploadRetryConfig `yaml:"upload"`
}

// FetchRetryConfig — экспоненциальные повторы загрузки страниц: base, 2*base, 4*base...
type FetchRetryConfig struct {
	Attempts  int           `yaml:"attempts"   env:"FETCH_RETRY_ATTEMPTS" env-default:"3"`
	BaseDelay time.Duration `yaml:"base_delay" env:"FETCH_RETRY_BASE"     env-default:"1s"`
}

// UploadRetryConfig — линейные повторы записи: delay*1, delay*2...
type UploadRetryConfig struct {
	Attempts       int           `yaml:"attempts"        env:"UPLOAD_RETRY_ATTEMPTS" env-default:"3"`
	TransientDelay time.Duration `yaml:"transient_delay" env:"UPLOAD_TRANSIENT_DELAY" env-default:"1s"`
	OtherDelay     time.Duration `yaml:"other_delay"     env:"UPLOAD_OTHER_DELAY"     env-default:"500ms"`
	ConflictDelay  time.Duration `yaml:"conflict_delay"  env:"UPLOAD_CONFLICT_DELAY"  env-default:"500ms"`
}

// DedupConfig — параметры поиска дубликатов.
type DedupConfig struct {
	Threshold       float64 `yaml:"threshold"         env:"DEDUP_THRESHOLD"     env-default:"0.85"`
	Shingle         int     `yaml:"shingle"           env:"DEDUP_SHINGLE"       env-default:"3"`
	PrefixLength    int     `yaml:"prefix_length"     env:"DEDUP_PREFIX_LENGTH" env-default:"300"`
	MinPrefixLength int     `yaml:"min_prefix_length" env:"DEDUP_MIN_PREFIX"    env-default:"50"`
}

// DBConfig — настройки подключения к хранилищу.
type DBConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER"    env-default:"postgres"`
	URL    string `yaml:"url"    env:"DATABASE_URL" env-required:"true"`
}

// BackupConfig — снапшоты записей для восстановления/аудита.
type BackupConfig struct {
	// Enabled по умолчанию true (см. defaults).
	Enabled bool     `yaml:"enabled" env:"BACKUP_ENABLED"`
	Driver  string   `yaml:"driver"  env:"BACKUP_DRIVER"  env-default:"file"`
	Dir     string   `yaml:"dir"     env:"BACKUP_DIR"     env-default:"./backups"`
	S3      S3Config `yaml:"s3"`
}

// S3Config — настройки S3-совместимого хранилища (MinIO).
type S3Config struct {
	Endpoint     string `yaml:"endpoint"      env:"S3_ENDPOINT"`
	RootUser     string `yaml:"root_user"     env:"S3_ROOT_USER"`
	RootPassword string `yaml:"root_password" env:"S3_ROOT_PASSWORD"`
	Bucket       string `yaml:"bucket"        env:"S3_BUCKET"`
	Prefix       string `yaml:"prefix"        env:"S3_PREFIX" env-default:"backups/"`
}

// SchedulerConfig — периодический запуск в режиме serve.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"1h"`
}

// CleanupConfig — очистка дубликатов в хранилище.
type CleanupConfig struct {
	BatchSize int `yaml:"batch_size" env:"CLEANUP_BATCH_SIZE" env-default:"10"`
	// RequireBackup по умолчанию true (см. defaults).
	RequireBackup bool `yaml:"require_backup" env:"CLEANUP_REQUIRE_BACKUP"`
}

// HTTPConfig — сетевые настройки административного HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50083"`
}

// GRPCConfig — сетевые настройки gRPC-сервера (health).
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50053"`
}

// TimeoutConfig — таймауты обработки входящих запросов.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"5s"`
	// Cleanup — таймаут очистки через API; обход всего хранилища дольше обычного запроса.
	Cleanup time.Duration `yaml:"cleanup" env:"CLEANUP_TIMEOUT" env-default:"5m"`
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// defaults — значения, для которых ноль осмыслен и env-default неприменим:
// cleanenv подставляет env-default в любое нулевое поле, в том числе в явно
// прочитанный из YAML 0/false. Такие поля заполняются до чтения источников.
func defaults() Config {
	return Config{
		Feed:    FeedConfig{WindowHours: 24},
		Backup:  BackupConfig{Enabled: true},
		Cleanup: CleanupConfig{RequireBackup: true},
	}
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
func Load(path string) (*Config, error) {
	cfg := defaults()

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: config file does not exist: %s", ErrInvalidConfig, p)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to read config: %v", ErrInvalidConfig, err)
		}
		return &cfg, nil
	}

	var (
		c   *Config
		err error
	)

	switch {
	case path != "":
		c, err = tryRead(path)
	case os.Getenv("CONFIG_PATH") != "":
		c, err = tryRead(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat("local.yaml"); statErr == nil {
			c, err = tryRead("local.yaml")
			break
		}
		if envErr := cleanenv.ReadEnv(&cfg); envErr != nil {
			return nil, fmt.Errorf("%w: config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %v", ErrInvalidConfig, envErr)
		}
		c = &cfg
	}
	if err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// validate — базовая валидация значений.
func (c *Config) validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.DB.URL) == "" {
		return invalid("db.url is required")
	}
	if c.DB.Driver != DriverPostgres && c.DB.Driver != DriverMongo {
		return invalid("db.driver must be %q or %q", DriverPostgres, DriverMongo)
	}
	if c.Feed.BaseURL == "" {
		return invalid("feed.base_url is required")
	}
	if c.Feed.MaxPages <= 0 {
		return invalid("feed.max_pages must be > 0")
	}
	if c.Feed.WindowHours < 0 {
		return invalid("feed.window_hours must be >= 0")
	}
	if c.Feed.MaxArticles < 0 {
		return invalid("feed.max_articles must be >= 0")
	}
	if c.Enrich.Concurrency <= 0 {
		return invalid("enrich.concurrency must be > 0")
	}
	if c.Retry.Fetch.Attempts <= 0 || c.Retry.Upload.Attempts <= 0 {
		return invalid("retry attempts must be > 0")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return invalid("dedup.threshold must be in (0, 1]")
	}
	if c.Dedup.Shingle <= 0 {
		return invalid("dedup.shingle must be > 0")
	}
	if c.Cleanup.BatchSize <= 0 {
		return invalid("cleanup.batch_size must be > 0")
	}
	if c.Backup.Enabled {
		switch c.Backup.Driver {
		case BackupFile:
			if c.Backup.Dir == "" {
				return invalid("backup.dir is required for file backups")
			}
		case BackupS3:
			if c.Backup.S3.Endpoint == "" || c.Backup.S3.Bucket == "" {
				return invalid("backup.s3.endpoint and backup.s3.bucket are required for s3 backups")
			}
		default:
			return invalid("backup.driver must be %q or %q", BackupFile, BackupS3)
		}
	}
	return nil
}
