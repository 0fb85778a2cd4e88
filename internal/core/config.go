package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the MineChat
// gateway and its tools.
type Config struct {
	// Hostname or IP address on which the gateway will listen for connections.
	Hostname string `mapstructure:"hostname"`

	GatewayServer struct {
		// Port on which the gateway will accept external chat clients.
		Port int `mapstructure:"port"`
		// Maximum number of concurrent client connections (0 for unlimited).
		MaxConnections int `mapstructure:"max_connections"`
		// Number of seconds an unclaimed link code remains redeemable.
		LinkCodeTTLSeconds int `mapstructure:"link_code_ttl_seconds"`
		// Number of seconds between expiry sweeps/registry flushes.
		FlushIntervalSeconds int `mapstructure:"flush_interval_seconds"`
	} `mapstructure:"gateway_server"`

	Database struct {
		// Persistence engine for the registries. Options: json, sqlite, postgres.
		Engine string `mapstructure:"engine"`
		// Directory holding link_codes.json and clients.json (json engine).
		DataDir string `mapstructure:"data_dir"`
		// Path to the database file (sqlite engine).
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for the gateway.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
	} `mapstructure:"logging"`

	Debugging struct {
		// Enable the pprof HTTP server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log decoded frames to the application log.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MINECHAT"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading config file: %v", err)
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v", err)
		os.Exit(1)
	}
	return config
}

func setDefaults() {
	viper.SetDefault("gateway_server.port", 25575)
	viper.SetDefault("gateway_server.link_code_ttl_seconds", 300)
	viper.SetDefault("gateway_server.flush_interval_seconds", 60)
	viper.SetDefault("database.engine", "json")
	viper.SetDefault("database.data_dir", ".")
	viper.SetDefault("logging.log_level", "info")
}

// GatewayAddress returns the listen address for the external client socket.
func (c *Config) GatewayAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.GatewayServer.Port)
}

// LinkCodeTTL returns the lifetime of an unclaimed link code.
func (c *Config) LinkCodeTTL() time.Duration {
	return time.Duration(c.GatewayServer.LinkCodeTTLSeconds) * time.Second
}

// FlushInterval returns the period of the registry sweep/flush task.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.GatewayServer.FlushIntervalSeconds) * time.Second
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres DSN generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}
