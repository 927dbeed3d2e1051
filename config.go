package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	banDuration     time.Duration
	bind            string
	pepperEpoch     string
	port            int
	prefix          string
	profile         bool
	redisURL        string
	reportSecret    string
	reportThreshold int
	reportWindow    time.Duration
	sessionTimeout  time.Duration
	tlsCert         string
	tlsKey          string
	verbose         bool
	version         bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.reportSecret == "" {
		return errors.New("--report-secret is required; rotating it resets all fingerprints")
	}
	if c.reportThreshold < 1 {
		return fmt.Errorf("invalid report threshold (must be at least 1): %d", c.reportThreshold)
	}
	if c.reportWindow <= 0 || c.banDuration <= 0 {
		return errors.New("--report-window and --ban-duration must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SECRETWOLF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "secretwolf...",
		Short:         "Anonymous abuse reporting and device fingerprinting for the secret-wolf party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.banDuration, "ban-duration", 24*time.Hour, "how long a shadow ban lasts once set (env: SECRETWOLF_BAN_DURATION)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SECRETWOLF_BIND)")
	fs.StringVar(&cfg.pepperEpoch, "pepper-epoch", "1", "fingerprint rotation epoch; bump to invalidate all fingerprints (env: SECRETWOLF_PEPPER_EPOCH)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SECRETWOLF_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SECRETWOLF_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SECRETWOLF_PROFILE)")
	fs.StringVar(&cfg.redisURL, "redis-url", "", "redis connection URL for the report ledger; empty runs in-memory (env: SECRETWOLF_REDIS_URL)")
	fs.StringVar(&cfg.reportSecret, "report-secret", "", "server-only secret mixed into report fingerprints (env: SECRETWOLF_REPORT_SECRET)")
	fs.IntVar(&cfg.reportThreshold, "report-threshold", 3, "reports within the window before a shadow ban (env: SECRETWOLF_REPORT_THRESHOLD)")
	fs.DurationVar(&cfg.reportWindow, "report-window", 30*24*time.Hour, "decay window for report counters (env: SECRETWOLF_REPORT_WINDOW)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are ended (env: SECRETWOLF_IDLE_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SECRETWOLF_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SECRETWOLF_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SECRETWOLF_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SECRETWOLF_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("secretwolf v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
