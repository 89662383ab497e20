package discussions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Driver selects the vector service behind a Store.
type Driver string

const (
	DriverQdrant   Driver = "qdrant"
	DriverRedis    Driver = "redis"
	DriverSupabase Driver = "supabase"
	DriverMemory   Driver = "memory"
)

// Environment variables consulted by the config package.
const (
	EnvDriver       = "VECTOR_DB_DRIVER"
	EnvAPIKey       = "VECTOR_DB_API_KEY"
	EnvEnvironment  = "VECTOR_DB_ENVIRONMENT"
	EnvIndexName    = "VECTOR_DB_INDEX"
	EnvDimension    = "VECTOR_DB_DIMENSION"
	EnvNamespace    = "VECTOR_DB_NAMESPACE"
	EnvReadyTimeout = "VECTOR_DB_READY_TIMEOUT"
)

const (
	DefaultIndexName    = "composio-discussions"
	DefaultDimension    = 16
	DefaultNamespace    = "discussions"
	DefaultReadyTimeout = time.Second
)

// Config holds everything a Store needs. It is resolved once at the
// process boundary; the Store never reads the environment itself.
type Config struct {
	Driver Driver `yaml:"driver" validate:"oneof=qdrant redis supabase memory"`

	// APIKey authenticates against the service (Redis: password).
	APIKey string `yaml:"api_key" validate:"required_unless=Driver memory"`

	// Environment locates the service: cluster endpoint, Redis address or
	// Supabase project URL.
	Environment string `yaml:"environment" validate:"required_unless=Driver memory"`

	IndexName    string        `yaml:"index_name" validate:"required"`
	Dimension    int           `yaml:"dimension" validate:"gt=0"`
	Namespace    string        `yaml:"namespace" validate:"required"`
	ReadyTimeout time.Duration `yaml:"ready_timeout" validate:"gte=0"`
}

// DefaultConfig returns the defaults used for every unset field.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverQdrant,
		IndexName:    DefaultIndexName,
		Dimension:    DefaultDimension,
		Namespace:    DefaultNamespace,
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.IndexName == "" {
		c.IndexName = d.IndexName
	}
	if c.Dimension == 0 {
		c.Dimension = d.Dimension
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	return c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c and reports every problem as a single ErrConfiguration.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newOperationError(ErrConfiguration, "invalid configuration", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return &OperationError{Kind: ErrConfiguration, Msg: strings.Join(msgs, "; ")}
}

func describeField(fe validator.FieldError) string {
	switch fe.Field() {
	case "APIKey":
		return fmt.Sprintf("API key is required. Provide it in the configuration or set %s environment variable.", EnvAPIKey)
	case "Environment":
		return fmt.Sprintf("environment is required. Provide it in the configuration or set %s environment variable.", EnvEnvironment)
	case "Driver":
		return fmt.Sprintf("unknown driver %q, expected one of qdrant, redis, supabase, memory", fe.Value())
	case "Dimension":
		return fmt.Sprintf("dimension must be positive, got %v", fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}
