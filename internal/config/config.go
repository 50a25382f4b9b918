package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	// MinMetricsResolution protects the cluster metrics API from excessive polling.
	MinMetricsResolution = 15

	defaultProcessorService   = "metrics_processor"
	defaultProcessorNamespace = "custom-metrics-collection"
	defaultProcessorPort      = "9376"
	defaultDBName             = "nodes"
)

// Environment variable names.
const (
	EnvMetricsResolution  = "METRICS_RESOLUTION_TIME"
	EnvProcessorService   = "METRICS_PROCESSOR_SERVICE"
	EnvProcessorNamespace = "METRICS_PROCESSOR_SERVICE_NAMESPACE"
	EnvProcessorPort      = "METRICS_PROCESSOR_SERVICE_PORT"
	EnvProcessorURL       = "METRICS_PROCESSOR_URL"
	EnvDBHost             = "DB_HOST"
	EnvDBPort             = "DB_PORT"
	EnvDBUser             = "DB_USER"
	EnvDBPassword         = "DB_PASSWORD"
	EnvDBName             = "DB_NAME"
)

// LookupFunc mirrors os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Config is resolved once at startup and passed explicitly to the components.
type Config struct {
	MetricsResolution time.Duration
	Deployment        Deployment
	Database          Database
}

// Database holds the store connection parameters.
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// Load reads the process environment.
func Load(logger logr.Logger) Config {
	return LoadFrom(os.LookupEnv, logger)
}

// LoadFrom resolves the configuration from an arbitrary lookup source.
func LoadFrom(lookup LookupFunc, logger logr.Logger) Config {
	raw, present := lookup(EnvMetricsResolution)

	return Config{
		MetricsResolution: time.Duration(ResolveMetricsResolution(raw, present, logger)) * time.Second,
		Deployment:        ResolveDeployment(lookup),
		Database: Database{
			Host:     env(lookup, EnvDBHost, ""),
			Port:     env(lookup, EnvDBPort, ""),
			User:     env(lookup, EnvDBUser, ""),
			Password: env(lookup, EnvDBPassword, ""),
			Name:     env(lookup, EnvDBName, defaultDBName),
		},
	}
}

// ResolveMetricsResolution turns the raw METRICS_RESOLUTION_TIME value into
// seconds. Absent or non-numeric values fall back to the minimum, values below
// the minimum are clamped to it. Every fallback is logged at error level, logr
// has no warning level.
func ResolveMetricsResolution(raw string, present bool, logger logr.Logger) int {
	if !present {
		logger.Error(nil, "metrics resolution not set, using default",
			"env", EnvMetricsResolution, "default", MinMetricsResolution)
		return MinMetricsResolution
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logger.Error(err, "cannot parse metrics resolution, using default",
			"env", EnvMetricsResolution, "value", raw, "default", MinMetricsResolution)
		return MinMetricsResolution
	}

	if seconds < MinMetricsResolution {
		logger.Error(nil, "metrics resolution below minimum, clamping",
			"env", EnvMetricsResolution, "value", seconds, "minimum", MinMetricsResolution)
		return MinMetricsResolution
	}

	return seconds
}

// Validate reports every missing connection parameter. The database name is
// optional and always has a default.
func (d Database) Validate() error {
	var missing []string
	if d.Host == "" {
		missing = append(missing, EnvDBHost)
	}
	if d.Port == "" {
		missing = append(missing, EnvDBPort)
	}
	if d.User == "" {
		missing = append(missing, EnvDBUser)
	}
	if d.Password == "" {
		missing = append(missing, EnvDBPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required database environment variables: %s", strings.Join(missing, ", "))
	}

	if _, err := strconv.ParseUint(d.Port, 10, 16); err != nil {
		return errors.New(EnvDBPort + " must be a valid port number")
	}
	return nil
}

// Addr returns host:port.
func (d Database) Addr() string {
	return d.Host + ":" + d.Port
}

func env(lookup LookupFunc, key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
