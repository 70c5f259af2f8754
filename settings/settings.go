// Package settings loads settings.ini and the environment overrides for it.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	ini "gopkg.in/ini.v1"

	"sip2gate/gate"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	sipServer       string
	sipPort         int
	sipUsername     string
	sipPassword     string
	gateNumber      string
	callerID        string
	localPort       int
	portRange       int
	publicAddress   string
	userAgent       string
	registerExpires int

	ringDuration      float64
	ringingGrace      float64
	maxWait           float64
	alternateFormats  bool
	exitCode          string
	assumeSuccess     bool
	successCooldown   float64
	failureCooldown   float64
	registrationCheck float64

	httpEnabled bool
	httpListen  string
	jwtSecret   string
	jwtIssuer   string

	tgEnabled          bool
	apiID              int
	apiHash            string
	dbFolder           string
	allowedUsers       []string
	systemLanguageCode string
	deviceModel        string
	applicationVersion string
	proxyAddress       string
	proxyPort          int
	proxyUsername      string
	proxyPassword      string

	redisEnabled  bool
	redisAddr     string
	redisPassword string
	redisDB       int
	redisChannel  string
}

// secrets are the values that may come from the environment instead of the
// ini file. Set variables win.
type secrets struct {
	SIPServer       string `env:"SIP_SERVER"`
	SIPUsername     string `env:"SIP_USERNAME"`
	SIPPassword     string `env:"SIP_PASSWORD"`
	GateNumber      string `env:"GATE_NUMBER"`
	JWTSecret       string `env:"JWT_SECRET"`
	TelegramAPIHash string `env:"TELEGRAM_API_HASH"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIP2GATE_"

// Load reads path, loads ENV_FILE (or .env when present) into the
// environment, applies the overrides and validates the result. The parsed
// file is returned for the sections other packages read.
func Load(path string) (*Settings, *ini.File, error) {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := loadEnvFile(); err != nil {
		return nil, nil, err
	}
	s, err := LoadSettings(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func loadEnvFile() error {
	if envfile := os.Getenv("ENV_FILE"); envfile != "" {
		return godotenv.Load(envfile)
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// LoadSettings reads configuration from ini file, overlays the environment
// and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipServer = sec.Key("server").String()
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipUsername = sec.Key("username").String()
	s.sipPassword = sec.Key("password").String()
	s.gateNumber = sec.Key("gate_number").String()
	s.callerID = sec.Key("caller_id").String()
	s.localPort = sec.Key("local_port").MustInt(5070)
	s.portRange = sec.Key("port_range").MustInt(10)
	s.publicAddress = sec.Key("public_address").String()
	s.userAgent = sec.Key("user_agent").MustString("sip2gate")
	s.registerExpires = sec.Key("register_expires").MustInt(300)

	sec = cfg.Section("call")
	s.ringDuration = sec.Key("ring_duration").MustFloat64(1.0)
	s.ringingGrace = sec.Key("ringing_grace").MustFloat64(3.0)
	s.maxWait = sec.Key("max_wait").MustFloat64(gate.DefaultMaxWait.Seconds())
	s.alternateFormats = sec.Key("alternate_formats").MustBool(true)
	s.exitCode = sec.Key("exit_code").MustString("00")
	s.assumeSuccess = sec.Key("assume_success_on_timeout").MustBool(false)
	s.successCooldown = sec.Key("success_cooldown").MustFloat64(2.0)
	s.failureCooldown = sec.Key("failure_cooldown").MustFloat64(3.0)
	s.registrationCheck = sec.Key("registration_check").MustFloat64(2.0)

	sec = cfg.Section("http")
	s.httpEnabled = sec.Key("enabled").MustBool(true)
	s.httpListen = sec.Key("listen").MustString(":8080")
	s.jwtSecret = sec.Key("jwt_secret").String()
	s.jwtIssuer = sec.Key("jwt_issuer").String()

	sec = cfg.Section("telegram")
	s.tgEnabled = sec.Key("enabled").MustBool(false)
	s.apiID = sec.Key("api_id").MustInt(0)
	s.apiHash = sec.Key("api_hash").String()
	s.dbFolder = sec.Key("database_folder").MustString("/data")
	s.allowedUsers = sec.Key("allowed_users").Strings(",")
	s.systemLanguageCode = sec.Key("system_language_code").MustString("en-US")
	s.deviceModel = sec.Key("device_model").MustString("PC")
	s.applicationVersion = sec.Key("application_version").MustString("1.0")
	s.proxyAddress = sec.Key("proxy_address").String()
	s.proxyPort = sec.Key("proxy_port").MustInt(0)
	s.proxyUsername = sec.Key("proxy_username").String()
	s.proxyPassword = sec.Key("proxy_password").String()

	sec = cfg.Section("redis")
	s.redisEnabled = sec.Key("enabled").MustBool(false)
	s.redisAddr = sec.Key("addr").MustString("localhost:6379")
	s.redisPassword = sec.Key("password").String()
	s.redisDB = sec.Key("db").MustInt(0)
	s.redisChannel = sec.Key("channel").MustString("sip2gate:status")

	if err := s.overlayEnv(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) overlayEnv() error {
	var env secrets
	if err := parseEnv(&env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	override(&s.sipServer, env.SIPServer)
	override(&s.sipUsername, env.SIPUsername)
	override(&s.sipPassword, env.SIPPassword)
	override(&s.gateNumber, env.GateNumber)
	override(&s.jwtSecret, env.JWTSecret)
	override(&s.apiHash, env.TelegramAPIHash)
	override(&s.redisPassword, env.RedisPassword)
	return nil
}

func parseEnv(v *secrets) error {
	return env.ParseWithOptions(v, env.Options{Prefix: EnvPrefix})
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (s *Settings) validate() error {
	var errs []error
	if err := s.CallConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.localPort <= 0 || s.localPort > 65535 {
		errs = append(errs, fmt.Errorf("sip.local_port must be a valid port, got %d", s.localPort))
	}
	if s.portRange < 0 {
		errs = append(errs, fmt.Errorf("sip.port_range must not be negative, got %d", s.portRange))
	}
	if s.maxWait <= 0 {
		errs = append(errs, fmt.Errorf("call.max_wait must be positive, got %v", s.maxWait))
	}
	if s.tgEnabled && (s.apiID == 0 || s.apiHash == "") {
		errs = append(errs, errors.New("telegram api settings must be set"))
	}
	return errors.Join(errs...)
}

// CallConfig is the gate controller configuration.
func (s *Settings) CallConfig() gate.Config {
	return gate.Config{
		Server:   s.sipServer,
		Port:     s.sipPort,
		Username: s.sipUsername,
		Password: s.sipPassword,
		Number:   s.gateNumber,
		CallerID: s.callerID,
	}
}

// Timing returns the controller delays with the configured overrides.
func (s *Settings) Timing() gate.Timing {
	t := gate.DefaultTiming()
	t.MaxWait = seconds(s.maxWait)
	t.RingDuration = seconds(s.ringDuration)
	t.RingingGrace = seconds(s.ringingGrace)
	t.SuccessCooldown = seconds(s.successCooldown)
	t.FailureCooldown = seconds(s.failureCooldown)
	t.RegisterCheck = seconds(s.registrationCheck)
	return t
}

func (s *Settings) TimeoutPolicy() gate.TimeoutPolicy {
	if s.assumeSuccess {
		return gate.TimeoutAssumeSuccess
	}
	return gate.TimeoutStrict
}

// Normalizer returns the number formats to dial.
func (s *Settings) Normalizer() gate.Normalizer {
	if !s.alternateFormats {
		return gate.Verbatim
	}
	return gate.InternationalPrefix{ExitCode: s.exitCode}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (s *Settings) LocalPort() int          { return s.localPort }
func (s *Settings) PortRange() int          { return s.portRange }
func (s *Settings) PublicAddress() string   { return s.publicAddress }
func (s *Settings) UserAgent() string       { return s.userAgent }
func (s *Settings) RegisterExpires() uint32 { return uint32(max(s.registerExpires, 0)) }

func (s *Settings) HTTPEnabled() bool  { return s.httpEnabled }
func (s *Settings) HTTPListen() string { return s.httpListen }
func (s *Settings) JWTSecret() string  { return s.jwtSecret }
func (s *Settings) JWTIssuer() string  { return s.jwtIssuer }

func (s *Settings) TelegramEnabled() bool      { return s.tgEnabled }
func (s *Settings) APIID() int                 { return s.apiID }
func (s *Settings) APIHash() string            { return s.apiHash }
func (s *Settings) DatabaseFolder() string     { return s.dbFolder }
func (s *Settings) SystemLanguageCode() string { return s.systemLanguageCode }
func (s *Settings) DeviceModel() string        { return s.deviceModel }
func (s *Settings) ApplicationVersion() string { return s.applicationVersion }
func (s *Settings) ProxyAddress() string       { return s.proxyAddress }
func (s *Settings) ProxyPort() int             { return s.proxyPort }
func (s *Settings) ProxyUsername() string      { return s.proxyUsername }
func (s *Settings) ProxyPassword() string      { return s.proxyPassword }

// AllowedUsers lists the Telegram usernames or phone numbers that may send
// commands.
func (s *Settings) AllowedUsers() []string {
	out := make([]string, 0, len(s.allowedUsers))
	for _, u := range s.allowedUsers {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (s *Settings) RedisEnabled() bool    { return s.redisEnabled }
func (s *Settings) RedisAddr() string     { return s.redisAddr }
func (s *Settings) RedisPassword() string { return s.redisPassword }
func (s *Settings) RedisDB() int          { return s.redisDB }
func (s *Settings) RedisChannel() string  { return s.redisChannel }
