package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 동기화 코어 전체 설정
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

// TransportConfig 실시간 연결 설정
type TransportConfig struct {
	URL               string        `mapstructure:"url"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// RelayConfig 릴레이 서버 설정
type RelayConfig struct {
	Addr              string        `mapstructure:"addr"`
	MaxConnections    int           `mapstructure:"max_connections"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

// RecommendConfig 추천 전달 계층 설정
type RecommendConfig struct {
	FallbackEndpoint string        `mapstructure:"fallback_endpoint"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// PipelineConfig 음성 명령 파이프라인 설정
type PipelineConfig struct {
	CommandDelay time.Duration `mapstructure:"command_delay"`
}

// Option 로더 옵션
type Option func(*loader)

type loader struct {
	configPath string
	watch      bool
	onChange   func(*Config)
}

// WithConfigPath 설정 파일 경로 지정
func WithConfigPath(path string) Option {
	return func(l *loader) {
		l.configPath = path
	}
}

// WithWatch 설정 파일 변경 감시 활성화
func WithWatch(onChange func(*Config)) Option {
	return func(l *loader) {
		l.watch = true
		l.onChange = onChange
	}
}

// Load 설정을 읽는다. 우선순위: 환경 변수（CONSULTSYNC_ 접두）＞
// 설정 파일 ＞ 기본값. 파일이 없으면 기본값으로 동작한다.
func Load(opts ...Option) (*Config, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONSULTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		v.SetConfigName("consultsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
		// 파일 없음은 기본값으로 진행
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if l.watch && v.ConfigFileUsed() != "" {
		watchConfig(v, l.onChange)
	}

	return &cfg, nil
}

// Validate 설정 유효성 검사
func (c *Config) Validate() error {
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url must not be empty")
	}
	if c.Transport.ReconnectDelay <= 0 {
		return fmt.Errorf("transport.reconnect_delay must be positive")
	}
	if c.Transport.HeartbeatInterval <= 0 {
		return fmt.Errorf("transport.heartbeat_interval must be positive")
	}
	if c.Recommend.FallbackEndpoint == "" {
		return fmt.Errorf("recommend.fallback_endpoint must not be empty")
	}
	if c.Pipeline.CommandDelay < 0 {
		return fmt.Errorf("pipeline.command_delay must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.url", "ws://127.0.0.1:8090/ws")
	v.SetDefault("transport.handshake_timeout", "10s")
	v.SetDefault("transport.heartbeat_interval", "15s")
	v.SetDefault("transport.ping_timeout", "45s")
	v.SetDefault("transport.reconnect_delay", "2s")
	v.SetDefault("transport.write_timeout", "5s")

	v.SetDefault("relay.addr", ":8090")
	v.SetDefault("relay.max_connections", 64)
	v.SetDefault("relay.keep_alive_interval", "15s")

	v.SetDefault("recommend.fallback_endpoint", "http://127.0.0.1:8091/api/recommendations/pipeline")
	v.SetDefault("recommend.request_timeout", "10s")

	v.SetDefault("pipeline.command_delay", "400ms")
}
