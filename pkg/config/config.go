package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
	Cart    CartConfig    `mapstructure:"cart"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Order   OrderConfig   `mapstructure:"order"`
	Fees    FeesConfig    `mapstructure:"fees"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Addr                string `mapstructure:"addr"`
	Password            string `mapstructure:"password"`
	DB                  int    `mapstructure:"db"`
	PoolSize            int    `mapstructure:"pool_size"`
	CartKeyPrefix       string `mapstructure:"cart_key_prefix"`
	ChangeChannelPrefix string `mapstructure:"change_channel_prefix"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`

	// MigrateCatalogs also creates the catalog tables, for local setups.
	MigrateCatalogs bool `mapstructure:"migrate_catalogs"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type GatewayConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	OrderService string        `mapstructure:"order_service"`
	OrderAddr    string        `mapstructure:"order_addr"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`

	// PaymentCallbackToken, when set, must be sent by the payment provider in
	// the X-Callback-Token header.
	PaymentCallbackToken string        `mapstructure:"payment_callback_token"`
	StreamHeartbeat      time.Duration `mapstructure:"stream_heartbeat"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type CartConfig struct {
	MaxQuantity int `mapstructure:"max_quantity"`
}

type CatalogConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

type OrderConfig struct {
	DeliveryFee           string        `mapstructure:"delivery_fee"`
	PlaceTimeout          time.Duration `mapstructure:"place_timeout"`
	RequirePaidForPrepaid bool          `mapstructure:"require_paid_for_prepaid"`
	DraftTTL              time.Duration `mapstructure:"draft_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// FeesConfig overrides the payment fee table. Amounts are decimal strings so
// that no precision is lost through float parsing.
type FeesConfig struct {
	Methods map[string]FeeRateConfig `mapstructure:"methods"`
}

type FeeRateConfig struct {
	Percent string `mapstructure:"percent"`
	Fixed   string `mapstructure:"fixed"`
	Minimum string `mapstructure:"minimum"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("etcd.lease_ttl", 30)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.cart_key_prefix", "cart:")
	v.SetDefault("redis.change_channel_prefix", "cart:changes:")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mongodb.collection", "order_audit")
	v.SetDefault("gateway.order_service", "order-service")
	v.SetDefault("gateway.rpc_timeout", 10*time.Second)
	v.SetDefault("gateway.stream_heartbeat", 25*time.Second)
	v.SetDefault("gateway.payment_callback_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("cart.max_quantity", 20)
	v.SetDefault("catalog.lookup_timeout", 2*time.Second)
	v.SetDefault("order.delivery_fee", "50")
	v.SetDefault("order.place_timeout", 10*time.Second)
	v.SetDefault("order.require_paid_for_prepaid", true)
	v.SetDefault("order.draft_ttl", 15*time.Minute)
	v.SetDefault("order.sweep_interval", time.Minute)
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
