package config

import (
	"errors"
	"fmt"
	"internship-reporter/internal/components/telemetry"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

type Portal struct {
	// AuthUrl is the origin of the CAS login server, ex. http://ids.hbsy.cn
	AuthUrl string `json:"auth_url"`
	// BaseUrl is the origin of the portal, ex. https://jwxt.hbsy.cn
	BaseUrl           string  `json:"base_url"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// TermYear is the year prefix of the term code sent to the scores
	// endpoint. The portal has only ever been observed with one value.
	TermYear         string `json:"term_year"`
	CloudflareBypass bool   `json:"cloudflare_bypass"`
}

func (p Portal) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Email struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Sender   string `json:"sender"`
	Password string `json:"password"`
	Receiver string `json:"receiver"`
}

type Schedule struct {
	Weekly      string `json:"weekly"`
	MonthlyHour int    `json:"monthly_hour"`
	Timezone    string `json:"timezone"`
}

type Entry struct {
	Content string `json:"content"`
}

// Source is the list of pre-written reports of one kind, the n-th report
// submitted for a kind uses Report[n].
type Source struct {
	Type   string  `json:"type"`
	Report []Entry `json:"report"`
}

func (s Source) Contents() []string {
	out := make([]string, len(s.Report))
	for i, e := range s.Report {
		out[i] = e.Content
	}
	return out
}

type Config struct {
	Portal      Portal           `json:"portal"`
	Credentials Credentials      `json:"credentials"`
	CookieFile  string           `json:"cookie_file"`
	HistoryDb   string           `json:"history_db"`
	LogFile     string           `json:"log_file"`
	Email       Email            `json:"email"`
	Schedule    Schedule         `json:"schedule"`
	Reports     []Source         `json:"reports"`
	Telemetry   telemetry.Config `json:"telemetry"`
}

// Source returns the report source configured for the given type code.
func (c Config) Source(kind string) (Source, bool) {
	for _, s := range c.Reports {
		if s.Type == kind {
			return s, true
		}
	}
	return Source{}, false
}

var defaults = Config{
	Portal: Portal{
		AuthUrl:           "http://ids.hbsy.cn",
		BaseUrl:           "https://jwxt.hbsy.cn",
		TimeoutSeconds:    30,
		RequestsPerSecond: 2,
		TermYear:          "2024",
	},
	CookieFile: "cookies.json",
	HistoryDb:  "history.db",
	Email: Email{
		Server: "smtp.qq.com",
		Port:   465,
	},
	Schedule: Schedule{
		Weekly:      "0 8 * * 6",
		MonthlyHour: 8,
		Timezone:    "Asia/Shanghai",
	},
}

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		errs = append(errs, fmt.Errorf("credentials.username and credentials.password are required"))
	}
	if c.Portal.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("portal.timeout_seconds must be positive"))
	}
	if c.Schedule.MonthlyHour < 0 || c.Schedule.MonthlyHour > 23 {
		errs = append(errs, fmt.Errorf("schedule.monthly_hour must be within 0..23"))
	}
	seen := map[string]bool{}
	for i, s := range c.Reports {
		if strings.TrimSpace(s.Type) == "" {
			errs = append(errs, fmt.Errorf("reports[%d].type is required", i))
			continue
		}
		if seen[s.Type] {
			errs = append(errs, fmt.Errorf("reports[%d].type %q is duplicated", i, s.Type))
		}
		seen[s.Type] = true
	}
	return errors.Join(errs...)
}

func splitExt(f string) (string, string) {
	ext := filepath.Ext(f)
	return strings.TrimSuffix(f, ext), strings.TrimPrefix(ext, ".")
}

// Read reads a configuration file, `name` should come with a file extension.
// <name>.local.<ext> is merged over <name>.<ext> if it exists, then unset
// fields are filled from the defaults and the result is validated.
func Read(name string) (Config, error) {
	var out Config
	allNotFound := true

	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		err = json5.Unmarshal(defaultFile, &out)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		allNotFound = false
	}

	localFilepath := filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override Config
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", localFilepath, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}

	err = mergo.Merge(&out, defaults)
	if err != nil {
		return out, err
	}
	return out, out.Validate()
}

// ReadRecursively is Read but it goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively(name string) (Config, error) {
	root, err := filepath.Abs("/")
	if err != nil {
		return Config{}, err
	}
	current, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	for current != root {
		config, err := Read(filepath.Join(current, name))
		if errors.Is(err, os.ErrNotExist) {
			current = filepath.Dir(current)
			continue
		}
		if err != nil {
			return Config{}, err
		}
		return config, nil
	}

	return Config{}, os.ErrNotExist
}
