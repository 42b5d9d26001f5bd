// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"krest/internal/domain"
)

// 既定値。
const (
	DefaultSourcePort      = "9443"
	DefaultDestinationPort = "443"
	DefaultTimeout         = 60 * time.Second
	DefaultDetailFailure   = domain.DetailFailureAbortClient
)

// Flags はコマンドラインで指定された値。空文字列は未指定を表す。
type Flags struct {
	SrcHost, SrcPort, SrcUser, SrcPass string
	DstHost, DstPort, DstUser, DstPass string

	ListOnly         string
	SrcUUID          string
	NetAppNodeID     string
	NetAppCluster    string
	NetAppVserverID  string
	DstUserGroupName string
	SrcClientName    string
	ListSrcClients   bool
	ResolveOwnership bool
	IncludeSecrets   bool
	Insecure         bool
	Timeout          time.Duration
	ReportPath       string
	ReportDB         string
	ExportFile       string
	DetailFailure    string
	WarnUnknownUsage bool
	LogLevel         string
}

// Config はアプリケーション設定を表す。Load で一度だけ構築し、以後は変更しない。
type Config struct {
	Source      domain.Credential
	Destination domain.Credential

	ListOnly         domain.ListOnly
	Filter           domain.Filter
	GroupName        string
	ListSrcClients   bool
	ResolveOwnership bool
	IncludeSecrets   bool
	DetailFailure    domain.DetailFailure
	WarnUnknownUsage bool

	Insecure   bool
	Timeout    time.Duration
	ReportPath string
	ReportDB   string
	ExportFile string

	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string
	OtelEnabled        bool
	OtelEndpoint       string
	OtelServiceName    string
	OtelSamplingRate   float64
}

// Load はフラグと環境変数から設定を組み立てて検証する。
// パスワードはフラグが空の場合 KREST_SRC_PASS / KREST_DST_PASS から読む。
func Load(f Flags) (*Config, error) {
	listOnly := domain.ListOnlyNeither
	if f.ListOnly != "" {
		l, ok := domain.ParseListOnly(f.ListOnly)
		if !ok {
			return nil, fmt.Errorf("%w: listOnly must be one of neither, source, destination, both: %q", domain.ErrInvalidConfig, f.ListOnly)
		}
		listOnly = l
	}

	detail := DefaultDetailFailure
	if f.DetailFailure != "" {
		d, ok := domain.ParseDetailFailure(f.DetailFailure)
		if !ok {
			return nil, fmt.Errorf("%w: detailFailure must be abort-client or abort-run: %q", domain.ErrInvalidConfig, f.DetailFailure)
		}
		detail = d
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cfg := &Config{
		Source: domain.Credential{
			Host:     f.SrcHost,
			Port:     orDefault(f.SrcPort, DefaultSourcePort),
			Username: f.SrcUser,
			Password: orDefault(f.SrcPass, os.Getenv("KREST_SRC_PASS")),
		},
		Destination: domain.Credential{
			Host:     f.DstHost,
			Port:     orDefault(f.DstPort, DefaultDestinationPort),
			Username: f.DstUser,
			Password: orDefault(f.DstPass, os.Getenv("KREST_DST_PASS")),
		},
		ListOnly:         listOnly,
		Filter:           buildFilter(f),
		GroupName:        strings.TrimSpace(f.DstUserGroupName),
		ListSrcClients:   f.ListSrcClients,
		ResolveOwnership: f.ResolveOwnership,
		IncludeSecrets:   f.IncludeSecrets,
		DetailFailure:    detail,
		WarnUnknownUsage: f.WarnUnknownUsage,

		Insecure:   f.Insecure,
		Timeout:    timeout,
		ReportPath: f.ReportPath,
		ReportDB:   f.ReportDB,
		ExportFile: f.ExportFile,
	}
	cfg.loadAmbient(f.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAmbient はログ・トレース・KMSの設定だけを環境変数から読む。接続先を使わないコマンド向け。
func LoadAmbient(logLevel, reportDB string) *Config {
	cfg := &Config{ReportDB: reportDB}
	cfg.loadAmbient(logLevel)
	return cfg
}

func (c *Config) loadAmbient(logLevel string) {
	c.KMSKeyName = os.Getenv("KMS_KEY_NAME")
	c.GoogleCloudProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	c.LogLevel = orDefault(logLevel, getEnv("LOG_LEVEL", "INFO"))
	c.OtelEnabled = getEnv("OTEL_ENABLED", "false") == "true"
	c.OtelEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	c.OtelServiceName = getEnv("OTEL_SERVICE_NAME", "krest")
	c.OtelSamplingRate = getEnvFloat("OTEL_SAMPLING_RATE", 1.0)
}

// Validate は実行モードに必要な値が揃っているかを検証する。
func (c *Config) Validate() error {
	var missing []string
	if c.ListOnly.ReadsSource() || c.ListSrcClients {
		missing = appendMissing(missing, "srcHost", c.Source.Host)
		missing = appendMissing(missing, "srcUser", c.Source.Username)
		missing = appendMissing(missing, "srcPass", c.Source.Password)
	}
	if c.ListOnly.UsesDestination() && !c.ListSrcClients {
		missing = appendMissing(missing, "dstHost", c.Destination.Host)
		missing = appendMissing(missing, "dstUser", c.Destination.Username)
		missing = appendMissing(missing, "dstPass", c.Destination.Password)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if c.ExportFile != "" && c.KMSKeyName == "" {
		return fmt.Errorf("%w: exportFile requires KMS_KEY_NAME", domain.ErrInvalidConfig)
	}
	if c.ExportFile != "" && !c.ListOnly.UsesDestination() {
		return fmt.Errorf("%w: exportFile requires reading the destination", domain.ErrInvalidConfig)
	}
	if c.ReportDB != "" {
		if _, _, err := ParseReportDB(c.ReportDB); err != nil {
			return err
		}
	}
	return nil
}

// ParseReportDB は "sqlite:<path>" または "mysql:<dsn>" を分解する。
func ParseReportDB(s string) (driver, dsn string, err error) {
	driver, dsn, ok := strings.Cut(s, ":")
	if !ok || dsn == "" {
		return "", "", fmt.Errorf("%w: reportDB must be sqlite:<path> or mysql:<dsn>: %q", domain.ErrInvalidConfig, s)
	}
	switch driver {
	case "sqlite", "mysql":
		return driver, dsn, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported reportDB driver %q", domain.ErrInvalidConfig, driver)
	}
}

func buildFilter(f Flags) domain.Filter {
	filter := domain.Filter{
		UUID:       strings.TrimSpace(f.SrcUUID),
		ClientName: strings.TrimSpace(f.SrcClientName),
	}
	attrs := map[string]string{
		domain.NetAppNodeID:      f.NetAppNodeID,
		domain.NetAppClusterName: f.NetAppCluster,
		domain.NetAppVserverID:   f.NetAppVserverID,
	}
	for k, v := range attrs {
		if v = strings.TrimSpace(v); v != "" {
			if filter.CustomAttributes == nil {
				filter.CustomAttributes = make(map[string]string)
			}
			filter.CustomAttributes[k] = v
		}
	}
	return filter
}

func appendMissing(missing []string, name, value string) []string {
	if value == "" {
		return append(missing, name)
	}
	return missing
}

func orDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
