package core

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName         string
	Env             string // DEV (local; default), TEST, QA, PROD
	Build           string
	Debug           bool
	TestMode        bool
	SecretKey       string
	RollbarToken    string
	FrontendBaseURL string
	WorkDir         string

	Server struct {
		Host               string
		Address            string
		DebugHost          string
		PublicBaseURL      string // used to build gateway callback URLs
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		DisableReqLogs     bool
	}

	Database struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		InMemory      bool // DEV only: skip postgres and keep everything in memory
	}

	Gateway struct {
		Provider      string // sslcommerz | sandbox
		BaseURL       string
		StoreID       string
		StorePassword string
		Timeout       time.Duration
	}

	Payment struct {
		DefaultFee  string
		Currency    string
		ProductName string
	}

	Media struct {
		Dir           string
		URLPrefix     string
		MaxUploadSize int64
	}
}

func (c *Config) IsDevOrTest() bool { return c.Debug || c.TestMode }

func (c *Config) DBAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("appName", "Admissions")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.publicBaseURL", "http://localhost:8000")
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 8*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "admissions")
	v.SetDefault("database.user", "admissions")
	v.SetDefault("database.password", "admissions")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("gateway.provider", "sandbox")
	v.SetDefault("gateway.baseURL", "https://sandbox.sslcommerz.com")
	v.SetDefault("gateway.storeID", "")
	v.SetDefault("gateway.storePassword", "")
	v.SetDefault("gateway.timeout", 15*time.Second)

	v.SetDefault("payment.defaultFee", "500.00")
	v.SetDefault("payment.currency", "BDT")
	v.SetDefault("payment.productName", "Admission Form")

	v.SetDefault("media.dir", "media")
	v.SetDefault("media.urlPrefix", "/media")
	v.SetDefault("media.maxUploadSize", 5<<20)
}

// NewConfig loads the app configuration from defaults, `config/.env.<env>` (if any) and the environment.
// Env vars are prefixed with the env name, nested keys are joined with `_`, eg. PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("database.name", "admissions_test")
	}
	if env == "PROD" || env == "QA" {
		v.SetDefault("debug", false)
		v.SetDefault("gateway.provider", "sslcommerz")
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	conf.Env = env
	conf.WorkDir = wd
	if !filepath.IsAbs(conf.Media.Dir) {
		conf.Media.Dir = filepath.Join(wd, conf.Media.Dir)
	}
	return conf
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (env=%s, build=%s, debug=%t)", c.AppName, c.Env, c.Build, c.Debug)
}
