// Package config loads YAML configuration files with environment overrides.
//
// Files are read in this order, later sources winning:
//
//  1. the YAML file passed to Load
//  2. .env files (ENV_FILE if set, otherwise .env.local then .env)
//  3. process environment variables named by `env:"..."` struct tags
//
// Example:
//
//	type QueueConfig struct {
//	    Name string `yaml:"name" env:"AUDIT_QUEUE_NAME"`
//	}
//
//	cfg, err := config.Load[QueueConfig]("config.yml")
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loadEnvFiles loads .env files without overriding variables that are
// already present in the process environment.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the YAML file at path into a T and applies env overrides.
// A missing file is not an error: configuration may come entirely from
// the environment in container deployments.
func Load[T any](path string) (*T, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg T
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, unmarshalErr)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadWithDefaults is Load followed by setDefaults. Env overrides are
// applied again afterwards so the environment always wins.
func LoadWithDefaults[T any](path string, setDefaults func(*T)) (*T, error) {
	cfg, err := Load[T](path)
	if err != nil {
		return nil, err
	}
	if setDefaults != nil {
		setDefaults(cfg)
	}
	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// GetConfigPath returns CONFIG_PATH when set, otherwise defaultPath.
func GetConfigPath(defaultPath string) string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return defaultPath
}

// ApplyEnvOverrides walks cfg (a pointer to a struct) and sets every field
// tagged with `env:"NAME"` whose variable is non-empty.
func ApplyEnvOverrides(cfg any) {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	applyEnvToStruct(v)
}

func applyEnvToStruct(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			applyEnvToStruct(field)
			continue
		}

		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" {
			continue
		}
		if envVal := os.Getenv(envTag); envVal != "" {
			setFieldFromString(field, envVal)
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldFromString(field reflect.Value, val string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			if d, err := time.ParseDuration(val); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Bool:
		field.SetBool(parseBool(val))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(val, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// parseBool accepts "true", "1" and "yes" (case-insensitive).
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
