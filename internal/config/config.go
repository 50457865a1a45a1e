package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// etcd配置
	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		Prefix      string        `mapstructure:"prefix"`
		Enabled     bool          `mapstructure:"enabled"`
		// NodeID 标识本节点发布的记录，为空时取主机名
		NodeID string `mapstructure:"node_id"`
		// Import 是否将其他节点发布的服务导入为远程服务
		Import bool `mapstructure:"import"`
	} `mapstructure:"etcd"`

	// DNS服务配置
	DNS struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Domain        string `mapstructure:"domain"`
		CacheTTL      int    `mapstructure:"cache_ttl"`
	} `mapstructure:"dns"`

	// 管理API配置
	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// 服务发现时序配置
	Discovery struct {
		TickInterval         time.Duration `mapstructure:"tick_interval"`
		InitialDelay         time.Duration `mapstructure:"initial_delay"`
		RepetitionsBaseDelay time.Duration `mapstructure:"repetitions_base_delay"`
		RepetitionsMax       int           `mapstructure:"repetitions_max"`
		CyclicOfferDelay     time.Duration `mapstructure:"cyclic_offer_delay"`
		DefaultTTL           uint32        `mapstructure:"default_ttl"`
	} `mapstructure:"discovery"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.someip-routing")
		v.AddConfigPath("/etc/someip-routing")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// 找不到默认配置文件时使用默认值，其他错误返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	v.SetEnvPrefix("SOMEIP_ROUTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if config.Etcd.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("获取主机名失败: %w", err)
		}
		config.Etcd.NodeID = hostname
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Discovery.TickInterval <= 0 {
		return fmt.Errorf("discovery.tick_interval必须大于0")
	}
	if c.Discovery.CyclicOfferDelay <= 0 {
		return fmt.Errorf("discovery.cyclic_offer_delay必须大于0")
	}
	if c.Discovery.RepetitionsMax < 0 {
		return fmt.Errorf("discovery.repetitions_max不能为负数")
	}
	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("启用etcd时必须配置etcd.endpoints")
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.prefix", "/someip-routing/services/")
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.node_id", "")
	v.SetDefault("etcd.import", true)

	// DNS默认配置
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 5353)
	v.SetDefault("dns.domain", "someip.local")
	v.SetDefault("dns.cache_ttl", 5)

	// 管理API默认配置
	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// 服务发现默认配置
	v.SetDefault("discovery.tick_interval", "100ms")
	v.SetDefault("discovery.initial_delay", "10ms")
	v.SetDefault("discovery.repetitions_base_delay", "200ms")
	v.SetDefault("discovery.repetitions_max", 3)
	v.SetDefault("discovery.cyclic_offer_delay", "2s")
	v.SetDefault("discovery.default_ttl", 3)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("etcd.endpoints", "SOMEIP_ROUTING_ETCD_ENDPOINTS")
	v.BindEnv("etcd.node_id", "SOMEIP_ROUTING_NODE_ID")
	v.BindEnv("dns.port", "SOMEIP_ROUTING_DNS_PORT")
	v.BindEnv("api.port", "SOMEIP_ROUTING_API_PORT")
	v.BindEnv("discovery.default_ttl", "SOMEIP_ROUTING_DEFAULT_TTL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.someip-routing/config.yaml",
		"/etc/someip-routing/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
