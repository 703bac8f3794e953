package core

import (
	"crypto/rsa"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		JWT      JWTConfig
		Mailer   MailerConfig
		Storage  StorageConfig
		Login    LoginConfig
	}

	ServerConfig struct {
		Host            string
		Port            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		URL string
	}

	JWTConfig struct {
		PrivateKey             *rsa.PrivateKey
		PublicKey              *rsa.PublicKey
		ExpirationDelta        time.Duration
		RefreshExpirationDelta time.Duration
	}

	MailerConfig struct {
		Username       string
		Password       string
		Host           string
		Port           int
		SendgridAPIKey string
	}

	StorageConfig struct {
		AccessKeyID         string
		SecretAccessKey     string
		Bucket              string
		Region              string
		SignedURLExpiration time.Duration
	}

	LoginConfig struct {
		RedisURL    string
		MaxAttempts int
		Lockout     time.Duration
	}
)

// Address returns the API listen address.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// environment is the raw, schema-checked view of the process environment.
type environment struct {
	DatabaseURL       string `env:"DATABASE_URL" validate:"required"`
	Port              string `env:"PORT" validate:"required,numeric"`
	JWTPrivateKey     string `env:"JWT_PRIVATE_KEY" validate:"required"`
	JWTPublicKey      string `env:"JWT_PUBLIC_KEY" validate:"required"`
	JWTExpirationTime string `env:"JWT_EXPIRATION_TIME" validate:"required"`
	MailerUsername    string `env:"MAILER_USERNAME" validate:"required"`
	MailerPassword    string `env:"MAILER_PASSWORD" validate:"required"`
	AccessKeyID       string `env:"ACCESS_KEY_ID" validate:"required"`
	SecretAccessKey   string `env:"SECRET_ACCESS_KEY" validate:"required"`
	Bucket            string `env:"BUCKET" validate:"required"`
}

// fields that may stay empty in DEV/TEST (console mail, memory storage)
var debugOptionalEnv = []string{"MailerUsername", "MailerPassword", "AccessKeyID", "SecretAccessKey", "Bucket"}

// NewConfig loads the configuration from the environment (and the optional .env files).
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if err := loadDotEnv(env); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("APP_NAME", "Portal")
	v.SetDefault("BUILD", "develop")
	v.SetDefault("HOST", "")
	v.SetDefault("PORT", "3000")
	v.SetDefault("DEBUG_HOST", "localhost:4000")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")
	v.SetDefault("SECRET_KEY", "a9f7-kd&0=zq%e1c#4m!w2b)p8x_r@6t^y3u(n5j")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:8080")
	v.SetDefault("DEFAULT_FROM_EMAIL", "Portal <noreply@localhost>")
	v.SetDefault("JWT_REFRESH_EXPIRATION_TIME", "7d")
	v.SetDefault("PASSWORD_RESET_TIMEOUT", "3d")
	v.SetDefault("MAILER_HOST", "smtp.gmail.com")
	v.SetDefault("MAILER_PORT", 587)
	v.SetDefault("BUCKET_REGION", "us-east-1")
	v.SetDefault("SIGNED_URL_EXPIRATION", "15m")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCKOUT", "15m")
	v.AutomaticEnv()

	return buildConfig(v, env)
}

func loadDotEnv(env string) error {
	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getting working directory")
	}
	for _, p := range []string{filepath.Join(wd, "config", ".env."+strings.ToLower(env)), filepath.Join(wd, ".env")} {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return errors.Wrapf(err, "loading %s", p)
			}
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "checking %s", p)
		}
	}
	return nil
}

func buildConfig(v *viper.Viper, env string) (*Config, error) {
	raw := environment{
		DatabaseURL:       v.GetString("DATABASE_URL"),
		Port:              v.GetString("PORT"),
		JWTPrivateKey:     v.GetString("JWT_PRIVATE_KEY"),
		JWTPublicKey:      v.GetString("JWT_PUBLIC_KEY"),
		JWTExpirationTime: v.GetString("JWT_EXPIRATION_TIME"),
		MailerUsername:    v.GetString("MAILER_USERNAME"),
		MailerPassword:    v.GetString("MAILER_PASSWORD"),
		AccessKeyID:       v.GetString("ACCESS_KEY_ID"),
		SecretAccessKey:   v.GetString("SECRET_ACCESS_KEY"),
		Bucket:            v.GetString("BUCKET"),
	}
	debug := env == "DEV" || env == "TEST"
	if err := validateEnvironment(raw, debug); err != nil {
		return nil, err
	}

	conf := &Config{
		Env:             env,
		Build:           v.GetString("BUILD"),
		Debug:           debug,
		TestMode:        env == "TEST",
		AppName:         v.GetString("APP_NAME"),
		SecretKey:       v.GetString("SECRET_KEY"),
		FrontendBaseURL: strings.TrimRight(v.GetString("FRONTEND_BASE_URL"), "/"),
		RollbarToken:    v.GetString("ROLLBAR_TOKEN"),
		Server: ServerConfig{
			Host:      v.GetString("HOST"),
			Port:      raw.Port,
			DebugHost: v.GetString("DEBUG_HOST"),
		},
		Database: DatabaseConfig{URL: raw.DatabaseURL},
		Mailer: MailerConfig{
			Username:       raw.MailerUsername,
			Password:       raw.MailerPassword,
			Host:           v.GetString("MAILER_HOST"),
			Port:           v.GetInt("MAILER_PORT"),
			SendgridAPIKey: v.GetString("SENDGRID_API_KEY"),
		},
		Storage: StorageConfig{
			AccessKeyID:     raw.AccessKeyID,
			SecretAccessKey: raw.SecretAccessKey,
			Bucket:          raw.Bucket,
			Region:          v.GetString("BUCKET_REGION"),
		},
		Login: LoginConfig{
			RedisURL:    v.GetString("REDIS_URL"),
			MaxAttempts: v.GetInt("LOGIN_MAX_ATTEMPTS"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("DEFAULT_FROM_EMAIL"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing DEFAULT_FROM_EMAIL")
	}
	conf.DefaultFromEmail = *from

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &conf.Server.ShutdownTimeout},
		{"JWT_EXPIRATION_TIME", &conf.JWT.ExpirationDelta},
		{"JWT_REFRESH_EXPIRATION_TIME", &conf.JWT.RefreshExpirationDelta},
		{"PASSWORD_RESET_TIMEOUT", &conf.PasswordResetTimeoutDelta},
		{"SIGNED_URL_EXPIRATION", &conf.Storage.SignedURLExpiration},
		{"LOGIN_LOCKOUT", &conf.Login.Lockout},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDuration(v.GetString(d.key)); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", d.key)
		}
	}

	if conf.JWT.PrivateKey, err = jwt.ParseRSAPrivateKeyFromPEM(pemBytes(raw.JWTPrivateKey)); err != nil {
		return nil, errors.Wrap(err, "parsing JWT_PRIVATE_KEY")
	}
	if conf.JWT.PublicKey, err = jwt.ParseRSAPublicKeyFromPEM(pemBytes(raw.JWTPublicKey)); err != nil {
		return nil, errors.Wrap(err, "parsing JWT_PUBLIC_KEY")
	}
	return conf, nil
}

func validateEnvironment(raw environment, debug bool) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})

	var err error
	if debug {
		err = validate.StructExcept(raw, debugOptionalEnv...)
	} else {
		err = validate.Struct(raw)
	}
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err
	}
	names := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		names = append(names, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return errors.Errorf("invalid environment: %s", strings.Join(names, ", "))
}

// pemBytes accepts PEM blocks whose newlines were escaped to fit in a single env var.
func pemBytes(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n"))
}

// ParseDuration extends time.ParseDuration with a day unit ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, errors.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if n, err := strconv.Atoi(s); err == nil { // bare numbers are seconds
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
