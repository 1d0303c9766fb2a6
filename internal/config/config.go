package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name below.
const Prefix = "CTXCONF_"

type Config struct {
	Store         string `env:"STORE" envDefault:"postgres" validate:"oneof=postgres mongo memory"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=Store postgres"`
	MongoURI      string `env:"MONGO_URI" validate:"required_if=Store mongo"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"ctxconf"`

	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	GRPCAddr   string `env:"GRPC_ADDR" envDefault:":9090"` // empty disables gRPC
	AuthToken  string `env:"AUTH_TOKEN"`                   // empty disables auth
	AdminToken string `env:"ADMIN_TOKEN"`                  // empty means AuthToken is admin
	NATSURL    string `env:"NATS_URL"`                     // empty disables events

	CacheBackend   string        `env:"CACHE_BACKEND" envDefault:"local" validate:"oneof=local redis none"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"5m" validate:"gt=0"`
	CacheCapacity  uint64        `env:"CACHE_CAPACITY" envDefault:"10000"`
	CacheOpTimeout time.Duration `env:"CACHE_OP_TIMEOUT" envDefault:"100ms" validate:"gt=0"`
	RedisURL       string        `env:"REDIS_URL" validate:"required_if=CacheBackend redis"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogFile   string `env:"LOG_FILE"`

	// BootstrapFile seeds the global record on first start when none exists.
	BootstrapFile string `env:"BOOTSTRAP_FILE"`

	// Sync settings
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"3m" validate:"gte=0"` // 0 = disabled
	SyncS3Bucket   string        `env:"SYNC_S3_BUCKET"`                                 // enables S3 when set
	SyncS3Endpoint string        `env:"SYNC_S3_ENDPOINT"`                               // custom endpoint for MinIO
	SyncS3Region   string        `env:"SYNC_S3_REGION" envDefault:"us-east-1"`
	SyncS3Key      string        `env:"SYNC_S3_KEY" envDefault:"ctxconf/snapshot.jsonl"`
	SyncGitRepo    string        `env:"SYNC_GIT_REPO"` // enables git when set; path to clone
	SyncGitFile    string        `env:"SYNC_GIT_FILE" envDefault:"ctxconf.jsonl"`
	SyncGitBranch  string        `env:"SYNC_GIT_BRANCH" envDefault:"main"`
}

// SyncEnabled reports whether any snapshot destination is configured.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

// Load reads the environment, after loading envFiles (or ./.env when none
// are named and it exists). Variables already set win over file values.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func validate(c *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s%s: failed %q (value %q)", Prefix, envName(fe.StructField()), fe.Tag(), fmt.Sprint(fe.Value())))
	}
	return errors.Join(errs...)
}

// envName maps a struct field back to its variable name for error messages.
func envName(field string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(field)
	if !ok {
		return field
	}
	name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
	return name
}
