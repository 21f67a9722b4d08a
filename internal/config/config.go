// Package config collects environment-driven configuration for both
// services. Every knob with a security impact (S2S key, election state, edge
// allowlist) is supplied externally; nothing is hardcoded.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/trustednet"
)

// Env vars shared by both services.
const (
	envEnvironment  = "EKKLESIA_ENV"
	envListenAddr   = "EKKLESIA_LISTEN_ADDR"
	envS2SKey       = "EKKLESIA_S2S_KEY"
	envElections    = "EKKLESIA_ELECTIONS"
	envEdgeIPv4     = "EKKLESIA_EDGE_IPV4"
	envEdgeIPv6     = "EKKLESIA_EDGE_IPV6"
	envBypassSecret = "EKKLESIA_ORIGIN_BYPASS_SECRET"
)

// Issuer-only env vars.
const (
	envIssuerDSN         = "EKKLESIA_ISSUER_PG_DSN"
	envSessionSecret     = "EKKLESIA_SESSION_SECRET"
	envSessionIssuer     = "EKKLESIA_SESSION_ISSUER"
	envCredentialTTL     = "EKKLESIA_CREDENTIAL_TTL"
	envRecorderURL       = "EKKLESIA_RECORDER_URL"
	envReconcileInterval = "EKKLESIA_RECONCILE_INTERVAL"
	envSweepInterval     = "EKKLESIA_SWEEP_INTERVAL"
)

// Recorder-only env vars.
const (
	envRecorderDSN = "EKKLESIA_RECORDER_PG_DSN"
	envIssuerURL   = "EKKLESIA_ISSUER_URL"
)

// Common holds configuration both services need.
type Common struct {
	Env          string
	ListenAddr   string
	S2SKey       string
	Elections    *election.Directory
	ElectionIDs  []string
	Edge         *trustednet.Network
	BypassSecret string
}

// NonProduction reports whether the deployment allows the origin-guard
// bypass. Anything not explicitly "production" is non-production.
func (c Common) NonProduction() bool {
	return c.Env != "production"
}

func loadCommon(defaultAddr string) (Common, error) {
	c := Common{
		Env:          strings.ToLower(getenv(envEnvironment, "production")),
		ListenAddr:   getenv(envListenAddr, defaultAddr),
		S2SKey:       os.Getenv(envS2SKey),
		BypassSecret: os.Getenv(envBypassSecret),
	}
	if c.S2SKey == "" {
		return Common{}, fmt.Errorf("%s is required", envS2SKey)
	}

	dir, ids, err := loadElections()
	if err != nil {
		return Common{}, err
	}
	c.Elections = dir
	c.ElectionIDs = ids

	edge, err := loadEdge()
	if err != nil {
		return Common{}, err
	}
	c.Edge = edge
	return c, nil
}

func loadElections() (*election.Directory, []string, error) {
	raw := os.Getenv(envElections)
	dir, err := election.ParseDirectory(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", envElections, err)
	}
	var ids []string
	for _, pair := range strings.Split(raw, ",") {
		if id, _, ok := strings.Cut(strings.TrimSpace(pair), "="); ok {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	return dir, ids, nil
}

func loadEdge() (*trustednet.Network, error) {
	v4 := splitList(os.Getenv(envEdgeIPv4))
	v6 := splitList(os.Getenv(envEdgeIPv6))
	if len(v4) == 0 && len(v6) == 0 {
		return trustednet.DefaultEdge(), nil
	}
	return trustednet.Parse(append(v4, v6...)...)
}

// Issuer is the credential issuer's configuration.
type Issuer struct {
	Common
	PGDSN             string
	SessionSecret     string
	SessionIssuer     string
	RecorderURL       string
	CredentialTTL     time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration
}

// LoadIssuer reads issuer configuration from the environment. Outside
// production a .env file in the working directory is honored.
func LoadIssuer() (Issuer, error) {
	loadDotenv()
	common, err := loadCommon(":8080")
	if err != nil {
		return Issuer{}, err
	}
	cfg := Issuer{
		Common:        common,
		PGDSN:         os.Getenv(envIssuerDSN),
		SessionSecret: os.Getenv(envSessionSecret),
		SessionIssuer: getenv(envSessionIssuer, "ekklesia-members"),
		RecorderURL:   os.Getenv(envRecorderURL),
	}
	if cfg.SessionSecret == "" {
		return Issuer{}, fmt.Errorf("%s is required", envSessionSecret)
	}
	if cfg.RecorderURL == "" {
		return Issuer{}, fmt.Errorf("%s is required", envRecorderURL)
	}
	if cfg.CredentialTTL, err = getDuration(envCredentialTTL, 24*time.Hour); err != nil {
		return Issuer{}, err
	}
	if cfg.ReconcileInterval, err = getDuration(envReconcileInterval, 5*time.Minute); err != nil {
		return Issuer{}, err
	}
	if cfg.SweepInterval, err = getDuration(envSweepInterval, time.Hour); err != nil {
		return Issuer{}, err
	}
	return cfg, nil
}

// Recorder is the ballot recorder's configuration.
type Recorder struct {
	Common
	PGDSN     string
	IssuerURL string
}

// LoadRecorder reads recorder configuration from the environment. Outside
// production a .env file in the working directory is honored.
func LoadRecorder() (Recorder, error) {
	loadDotenv()
	common, err := loadCommon(":8081")
	if err != nil {
		return Recorder{}, err
	}
	return Recorder{
		Common:    common,
		PGDSN:     os.Getenv(envRecorderDSN),
		IssuerURL: os.Getenv(envIssuerURL),
	}, nil
}

// --- helpers ---

func loadDotenv() {
	if strings.ToLower(os.Getenv(envEnvironment)) != "production" {
		_ = godotenv.Load()
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
