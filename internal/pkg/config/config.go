package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	App      AppConfig      `mapstructure:"app"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Push     PushConfig     `mapstructure:"push"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	TrustedProxies []string `mapstructure:"trusted_proxies"` // 负载均衡地址或网段，为空时不采信 X-Forwarded-For
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env         string `mapstructure:"env"`
	Debug       bool   `mapstructure:"debug"`
	TestOTPCode string `mapstructure:"test_otp_code"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// PaymentConfig 支付相关配置
type PaymentConfig struct {
	Currency          string          `mapstructure:"currency"`
	InitiationTimeout time.Duration   `mapstructure:"initiation_timeout"` // 调用网关发起支付的超时
	RedirectURL       string          `mapstructure:"redirect_url"`       // 支付完成后浏览器跳转地址
	Hosted            HostedConfig    `mapstructure:"hosted"`
	Alipay            AlipayConfig    `mapstructure:"alipay"`
	Wechat            WechatPayConfig `mapstructure:"wechat"`
}

// HostedConfig 托管收银台网关 (HMAC 共享密钥签名)
type HostedConfig struct {
	Endpoint       string   `mapstructure:"endpoint"`        // 发起支付地址
	StatusEndpoint string   `mapstructure:"status_endpoint"` // 交易状态查询地址
	MerchantID     string   `mapstructure:"merchant_id"`
	Secret         string   `mapstructure:"secret"`
	PaymentOptions []string `mapstructure:"payment_options"` // 如 card, wallet, voucher
}

type AlipayConfig struct {
	AppID        string `mapstructure:"app_id"`
	PrivateKey   string `mapstructure:"private_key"`   // 应用私钥
	PublicKey    string `mapstructure:"public_key"`    // 支付宝公钥 (不是应用公钥)
	NotifyURL    string `mapstructure:"notify_url"`    // 异步通知地址
	ReturnURL    string `mapstructure:"return_url"`    // 同步跳转地址
	IsProduction bool   `mapstructure:"is_production"` // 是否生产环境
}

type WechatPayConfig struct {
	AppID                string `mapstructure:"app_id"`
	MchID                string `mapstructure:"mch_id"`
	MchCertificateSerial string `mapstructure:"mch_cert_serial"`
	MchPrivateKey        string `mapstructure:"mch_private_key"`
	APIv3Key             string `mapstructure:"apiv3_key"`
	NotifyURL            string `mapstructure:"notify_url"`
}

// GuardConfig 失败次数锁定策略
type GuardConfig struct {
	Backend  string        `mapstructure:"backend"` // redis | memory，启动时确定，不在运行时切换
	Login    LockoutPolicy `mapstructure:"login"`
	Callback LockoutPolicy `mapstructure:"callback"`
}

// LockoutPolicy 窗口内连续失败 MaxAttempts 次后锁定 LockoutDuration
type LockoutPolicy struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Window          time.Duration `mapstructure:"window"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"` // 为 0 时等于 Window
}

type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	MaxRetry  int `mapstructure:"max_retry"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"` // 回调归档目录
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	switch c.Guard.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis address is required for the redis guard backend")
		}
	case "memory":
	default:
		return errors.New("guard.backend must be redis or memory")
	}

	if c.Payment.Currency == "" {
		return errors.New("payment currency is required")
	}
	if c.Payment.InitiationTimeout <= 0 {
		return errors.New("payment initiation timeout must be positive")
	}
	if c.Payment.Hosted.Endpoint != "" && len(c.Payment.Hosted.Secret) < 16 {
		return errors.New("hosted gateway secret should be at least 16 characters")
	}

	for name, p := range map[string]LockoutPolicy{"login": c.Guard.Login, "callback": c.Guard.Callback} {
		if p.MaxAttempts <= 0 || p.Window <= 0 {
			return errors.New("guard." + name + " requires max_attempts and window")
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_open", 100)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("payment.currency", "CNY")
	v.SetDefault("payment.initiation_timeout", "10s")
	v.SetDefault("guard.backend", "redis")
	v.SetDefault("guard.login.max_attempts", 5)
	v.SetDefault("guard.login.window", "15m")
	v.SetDefault("guard.login.lockout_duration", "15m")
	v.SetDefault("guard.callback.max_attempts", 20)
	v.SetDefault("guard.callback.window", "10m")
	v.SetDefault("guard.callback.lockout_duration", "30m")
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 1000)
	v.SetDefault("worker.max_retry", 3)
	v.SetDefault("oss.prefix", "callbacks")
}

// LoadConfig 加载配置
func LoadConfig() {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量: payment.hosted.secret -> PAYMENT_HOSTED_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
