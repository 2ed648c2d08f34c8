package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Node       NodeConfig       `mapstructure:"node"`
	Climate    ClimateConfig    `mapstructure:"climate"`
	Loop       LoopConfig       `mapstructure:"loop"`
	ReportHost ReportHostConfig `mapstructure:"report_host"`
	Hardware   HardwareConfig   `mapstructure:"hardware"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Timescale  TimescaleConfig  `mapstructure:"timescale"`
	HTTP       HTTPConfig       `mapstructure:"http"`

	// Verbose enables per-message logging; set from the command line only
	Verbose bool `mapstructure:"-"`
}

// MQTTConfig holds MQTT connection configuration
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	Port           int           `mapstructure:"port"`
	ClientID       string        `mapstructure:"client_id"`
	Topic          string        `mapstructure:"topic"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	InboxSize      int           `mapstructure:"inbox_size"`
}

// NodeConfig describes this node and its election parameters
type NodeConfig struct {
	Ident      string        `mapstructure:"ident"`
	Room       string        `mapstructure:"room"`
	Address    string        `mapstructure:"address"`
	User       string        `mapstructure:"user"`
	SSID       string        `mapstructure:"ssid"`
	Lat        float64       `mapstructure:"lat"`
	Lon        float64       `mapstructure:"lon"`
	RadiusKm   float64       `mapstructure:"radius_km"`
	Staleness  time.Duration `mapstructure:"staleness"`
	EvictAfter time.Duration `mapstructure:"evict_after"`
}

// ClimateConfig holds thresholds and actuator ranges
type ClimateConfig struct {
	HighTemp  float64 `mapstructure:"high_temp"`
	LowTemp   float64 `mapstructure:"low_temp"`
	LightMax  int     `mapstructure:"light_max"`
	FanMin    int     `mapstructure:"fan_min"`
	FanStep   int     `mapstructure:"fan_step"`
	FanMax    int     `mapstructure:"fan_max"`
	SensorMin float64 `mapstructure:"sensor_min"`
	SensorMax float64 `mapstructure:"sensor_max"`
}

// LoopConfig holds the control loop cadence
type LoopConfig struct {
	Tick            time.Duration `mapstructure:"tick"`
	ControlInterval time.Duration `mapstructure:"control_interval"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// ReportHostConfig is copied verbatim into the reporthost block of status reports
type ReportHostConfig struct {
	TargetIP   string `mapstructure:"target_ip"`
	TargetPort int    `mapstructure:"target_port"`
	SP         int    `mapstructure:"sp"`
}

// HardwareConfig selects the sensor driver
type HardwareConfig struct {
	Driver   string `mapstructure:"driver"`
	W1Device string `mapstructure:"w1_device"`
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TimescaleConfig holds Timescale specific configuration
type TimescaleConfig struct {
	TableName string `mapstructure:"table_name"`
}

// HTTPConfig holds the status endpoint configuration
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Hardware drivers
const (
	DriverSimulated = "simulated"
	DriverW1        = "w1"
)

// LoadConfig loads configuration from file and/or environment variables
func LoadConfig(path string) (*Config, error) {
	return Load(viper.New(), path)
}

// Load reads configuration into v. Values already bound on v (e.g. command line flags)
// take precedence over environment variables, the config file and defaults.
// path is either a directory searched for config.yaml or a config file.
func Load(v *viper.Viper, path string) (*Config, error) {
	// Set default values first (lowest precedence)
	setDefaults(v, GetDefaultConfig())

	// Try to load from config file (medium precedence)
	if ext := filepath.Ext(path); ext != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Set up environment variable support (highest precedence)
	// Example: mqtt.broker -> MQTT_BROKER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables to ensure they work
	for _, key := range v.AllKeys() {
		v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	// Keep backward compatibility with MQTT_BROKER_URL
	v.BindEnv("mqtt.broker", "MQTT_BROKER", "MQTT_BROKER_URL")

	// Try to read config file, but don't fail if it doesn't exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && filepath.Ext(path) != "" {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		} else if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			log.Printf("Warning: error reading config file: %v", err)
		} else {
			log.Println("No config file found, using environment variables and defaults")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.connect_timeout", d.MQTT.ConnectTimeout)
	v.SetDefault("mqtt.reconnect_delay", d.MQTT.ReconnectDelay)
	v.SetDefault("mqtt.inbox_size", d.MQTT.InboxSize)

	v.SetDefault("node.ident", d.Node.Ident)
	v.SetDefault("node.room", d.Node.Room)
	v.SetDefault("node.address", d.Node.Address)
	v.SetDefault("node.user", d.Node.User)
	v.SetDefault("node.ssid", d.Node.SSID)
	v.SetDefault("node.lat", d.Node.Lat)
	v.SetDefault("node.lon", d.Node.Lon)
	v.SetDefault("node.radius_km", d.Node.RadiusKm)
	v.SetDefault("node.staleness", d.Node.Staleness)
	v.SetDefault("node.evict_after", d.Node.EvictAfter)

	v.SetDefault("climate.high_temp", d.Climate.HighTemp)
	v.SetDefault("climate.low_temp", d.Climate.LowTemp)
	v.SetDefault("climate.light_max", d.Climate.LightMax)
	v.SetDefault("climate.fan_min", d.Climate.FanMin)
	v.SetDefault("climate.fan_step", d.Climate.FanStep)
	v.SetDefault("climate.fan_max", d.Climate.FanMax)
	v.SetDefault("climate.sensor_min", d.Climate.SensorMin)
	v.SetDefault("climate.sensor_max", d.Climate.SensorMax)

	v.SetDefault("loop.tick", d.Loop.Tick)
	v.SetDefault("loop.control_interval", d.Loop.ControlInterval)
	v.SetDefault("loop.publish_interval", d.Loop.PublishInterval)
	v.SetDefault("loop.sweep_interval", d.Loop.SweepInterval)

	v.SetDefault("report_host.target_ip", d.ReportHost.TargetIP)
	v.SetDefault("report_host.target_port", d.ReportHost.TargetPort)
	v.SetDefault("report_host.sp", d.ReportHost.SP)

	v.SetDefault("hardware.driver", d.Hardware.Driver)
	v.SetDefault("hardware.w1_device", d.Hardware.W1Device)

	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)

	v.SetDefault("timescale.table_name", d.Timescale.TableName)

	v.SetDefault("http.enabled", d.HTTP.Enabled)
	v.SetDefault("http.addr", d.HTTP.Addr)
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:         "tcp://broker.hivemq.com",
			Port:           1883,
			ClientID:       "", // derived from the node identity
			Topic:          "uca/iot/master",
			Username:       "",
			Password:       "",
			ConnectTimeout: 5 * time.Second,
			ReconnectDelay: 5 * time.Second,
			InboxSize:      256,
		},
		Node: NodeConfig{
			Ident:      "", // derived from the hardware address
			Room:       "512",
			Address:    "Les lucioles",
			User:       "GM",
			SSID:       "",
			Lat:        43.65413,
			Lon:        7.11102,
			RadiusKm:   5,
			Staleness:  30 * time.Second,
			EvictAfter: 5 * time.Minute,
		},
		Climate: ClimateConfig{
			HighTemp:  26.0,
			LowTemp:   25.8,
			LightMax:  3500,
			FanMin:    64,
			FanStep:   48,
			FanMax:    255,
			SensorMin: -55,
			SensorMax: 125,
		},
		Loop: LoopConfig{
			Tick:            250 * time.Millisecond,
			ControlInterval: 2 * time.Second,
			PublishInterval: 10 * time.Second,
			SweepInterval:   time.Minute,
		},
		ReportHost: ReportHostConfig{
			TargetIP:   "127.0.0.1",
			TargetPort: 1880,
			SP:         2,
		},
		Hardware: HardwareConfig{
			Driver:   DriverSimulated,
			W1Device: "",
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "iot_data",
			SSLMode:  "disable",
		},
		Timescale: TimescaleConfig{
			TableName: "hotspot_reports",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// Validate checks values that would make the node misbehave
func (c *Config) Validate() error {
	if c.Climate.LowTemp >= c.Climate.HighTemp {
		return fmt.Errorf("climate.low_temp (%.2f) must be below climate.high_temp (%.2f)", c.Climate.LowTemp, c.Climate.HighTemp)
	}
	if c.Node.Lat < -90 || c.Node.Lat > 90 || c.Node.Lon < -180 || c.Node.Lon > 180 {
		return fmt.Errorf("node coordinates (%f, %f) out of range", c.Node.Lat, c.Node.Lon)
	}
	if c.Node.RadiusKm < 0 {
		return fmt.Errorf("node.radius_km must not be negative, got %f", c.Node.RadiusKm)
	}
	if c.Node.Staleness <= 0 {
		return errors.New("node.staleness must be positive")
	}
	if c.Node.EvictAfter < c.Node.Staleness {
		return fmt.Errorf("node.evict_after (%s) must not be shorter than node.staleness (%s)", c.Node.EvictAfter, c.Node.Staleness)
	}
	if c.Loop.Tick <= 0 || c.Loop.ControlInterval <= 0 || c.Loop.PublishInterval <= 0 || c.Loop.SweepInterval <= 0 {
		return errors.New("loop intervals must be positive")
	}
	if c.MQTT.ReconnectDelay <= 0 || c.MQTT.ConnectTimeout <= 0 {
		return errors.New("mqtt.reconnect_delay and mqtt.connect_timeout must be positive")
	}
	if c.MQTT.Topic == "" {
		return errors.New("mqtt.topic must not be empty")
	}
	// reports are published on the same topic, which cannot be a filter
	if strings.ContainsAny(c.MQTT.Topic, "#+") {
		return fmt.Errorf("mqtt.topic %q must not contain wildcards", c.MQTT.Topic)
	}
	if c.Climate.FanMax <= 0 || c.Climate.FanMin <= 0 || c.Climate.FanMin > c.Climate.FanMax {
		return fmt.Errorf("climate fan range must satisfy 0 < fan_min (%d) <= fan_max (%d)", c.Climate.FanMin, c.Climate.FanMax)
	}
	if c.Climate.FanStep < 0 {
		return fmt.Errorf("climate.fan_step must not be negative, got %d", c.Climate.FanStep)
	}
	if c.Climate.SensorMin >= c.Climate.SensorMax {
		return fmt.Errorf("climate sensor range [%.2f, %.2f] is empty", c.Climate.SensorMin, c.Climate.SensorMax)
	}
	switch c.Hardware.Driver {
	case DriverSimulated:
	case DriverW1:
		if c.Hardware.W1Device == "" {
			return errors.New("hardware.w1_device is required with the w1 driver")
		}
	default:
		return fmt.Errorf("unknown hardware.driver %q", c.Hardware.Driver)
	}
	return nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	// log the URI
	log.Printf("Connecting to database at 'host=%s port=%d user=%s dbname=%s sslmode=%s'",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.DBName,
		c.Database.SSLMode,
	)
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	brokerURL := c.MQTT.Broker

	// If the URL already has a protocol, use it as is
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://"} {
		if strings.HasPrefix(brokerURL, scheme) {
			// If there's no port in the URL, add the default port
			if !strings.Contains(brokerURL[len(scheme):], ":") {
				brokerURL = fmt.Sprintf("%s:%d", brokerURL, c.MQTT.Port)
			}
			return brokerURL
		}
	}

	// Handle http:// and https:// protocols by converting to mqtt protocols
	if strings.HasPrefix(brokerURL, "http://") {
		host := brokerURL[7:]
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("tcp://%s", host)
	}

	if strings.HasPrefix(brokerURL, "https://") {
		host := brokerURL[8:]
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("ssl://%s", host)
	}

	// If no protocol is specified, use tcp:// with the configured port
	log.Printf("No protocol specified in broker URL '%s', defaulting to tcp://", brokerURL)
	return fmt.Sprintf("tcp://%s:%d", brokerURL, c.MQTT.Port)
}
