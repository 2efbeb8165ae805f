package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Значения по умолчанию
const (
	DefaultPort       = 21
	DefaultTimeout    = 10 * time.Second
	DefaultMaxTasks   = 10
	DefaultZoneName   = "CET"
	DefaultZoneOffset = "+01:00"
	DefaultAddr       = ":2992"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
)

type Environment struct {
	FTP_HOST     string `json:"FTP_HOST"`
	FTP_PORT     int    `json:"FTP_PORT"`
	FTP_USER     string `json:"FTP_USER"`
	FTP_PASSWORD string `json:"FTP_PASSWORD"`

	FTP_CONNECT_TIMEOUT  time.Duration `json:"FTP_CONNECT_TIMEOUT"`
	FTP_IDLE_TIMEOUT     time.Duration `json:"FTP_IDLE_TIMEOUT"`
	FTP_RESPONSE_TIMEOUT time.Duration `json:"FTP_RESPONSE_TIMEOUT"`
	FTP_DISABLE_EPSV     bool          `json:"FTP_DISABLE_EPSV"`

	FTP_MAX_UPLOADS   int `json:"FTP_MAX_UPLOADS"`
	FTP_MAX_DOWNLOADS int `json:"FTP_MAX_DOWNLOADS"`

	FTP_TIMESTAMP_ZONE   string `json:"FTP_TIMESTAMP_ZONE"`
	FTP_TIMESTAMP_OFFSET string `json:"FTP_TIMESTAMP_OFFSET"`

	BRIDGE_ADDR string `json:"BRIDGE_ADDR"`
	LOG_LEVEL   string `json:"LOG_LEVEL"`
	LOG_FORMAT  string `json:"LOG_FORMAT"`
}

// MustLoad читает настройки из переменных окружения
func MustLoad() (Environment, error) {
	return Load(os.LookupEnv)
}

// Load читает настройки через lookup. Незаданные переменные получают значения по умолчанию.
func Load(lookup func(string) (string, bool)) (Environment, error) {
	envr := Environment{
		FTP_PORT:             DefaultPort,
		FTP_CONNECT_TIMEOUT:  DefaultTimeout,
		FTP_IDLE_TIMEOUT:     DefaultTimeout,
		FTP_RESPONSE_TIMEOUT: DefaultTimeout,
		FTP_MAX_UPLOADS:      DefaultMaxTasks,
		FTP_MAX_DOWNLOADS:    DefaultMaxTasks,
		FTP_TIMESTAMP_ZONE:   DefaultZoneName,
		FTP_TIMESTAMP_OFFSET: DefaultZoneOffset,
		BRIDGE_ADDR:          DefaultAddr,
		LOG_LEVEL:            DefaultLogLevel,
		LOG_FORMAT:           DefaultLogFormat,
	}

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get("FTP_HOST"); ok {
		envr.FTP_HOST = v
	}
	if v, ok := get("FTP_USER"); ok {
		envr.FTP_USER = v
	}
	if v, ok := get("FTP_PASSWORD"); ok {
		envr.FTP_PASSWORD = v
	}
	if v, ok := get("FTP_TIMESTAMP_ZONE"); ok {
		envr.FTP_TIMESTAMP_ZONE = v
	}
	if v, ok := get("FTP_TIMESTAMP_OFFSET"); ok {
		envr.FTP_TIMESTAMP_OFFSET = v
	}
	if v, ok := get("BRIDGE_ADDR"); ok {
		envr.BRIDGE_ADDR = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		envr.LOG_LEVEL = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		envr.LOG_FORMAT = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"FTP_PORT", &envr.FTP_PORT},
		{"FTP_MAX_UPLOADS", &envr.FTP_MAX_UPLOADS},
		{"FTP_MAX_DOWNLOADS", &envr.FTP_MAX_DOWNLOADS},
	}
	for _, it := range ints {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envr, fmt.Errorf("%s environment variable is not a number: %w", it.key, err)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FTP_CONNECT_TIMEOUT", &envr.FTP_CONNECT_TIMEOUT},
		{"FTP_IDLE_TIMEOUT", &envr.FTP_IDLE_TIMEOUT},
		{"FTP_RESPONSE_TIMEOUT", &envr.FTP_RESPONSE_TIMEOUT},
	}
	for _, it := range durations {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return envr, fmt.Errorf("%s environment variable is not a duration: %w", it.key, err)
		}
		*it.dst = d
	}

	if v, ok := get("FTP_DISABLE_EPSV"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envr, fmt.Errorf("FTP_DISABLE_EPSV environment variable is not a boolean: %w", err)
		}
		envr.FTP_DISABLE_EPSV = b
	}

	return envr, envr.Validate()
}

// Validate проверяет диапазоны значений
func (e Environment) Validate() error {
	if e.FTP_PORT <= 0 || e.FTP_PORT > 65535 {
		return fmt.Errorf("invalid FTP_PORT %d", e.FTP_PORT)
	}
	if e.FTP_MAX_UPLOADS <= 0 {
		return fmt.Errorf("FTP_MAX_UPLOADS must be positive")
	}
	if e.FTP_MAX_DOWNLOADS <= 0 {
		return fmt.Errorf("FTP_MAX_DOWNLOADS must be positive")
	}
	for name, d := range map[string]time.Duration{
		"FTP_CONNECT_TIMEOUT":  e.FTP_CONNECT_TIMEOUT,
		"FTP_IDLE_TIMEOUT":     e.FTP_IDLE_TIMEOUT,
		"FTP_RESPONSE_TIMEOUT": e.FTP_RESPONSE_TIMEOUT,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if _, err := e.Zone(); err != nil {
		return err
	}
	return nil
}

// HasCredentials сообщает, заданы ли данные для входа через окружение
func (e Environment) HasCredentials() bool {
	return e.FTP_HOST != "" && e.FTP_USER != ""
}

// Zone возвращает фиксированную зону для отметок времени
func (e Environment) Zone() (*time.Location, error) {
	t, err := time.Parse("Z07:00", e.FTP_TIMESTAMP_OFFSET)
	if err != nil {
		return nil, fmt.Errorf("invalid FTP_TIMESTAMP_OFFSET %q: %w", e.FTP_TIMESTAMP_OFFSET, err)
	}
	_, offset := t.Zone()
	return time.FixedZone(e.FTP_TIMESTAMP_ZONE, offset), nil
}
