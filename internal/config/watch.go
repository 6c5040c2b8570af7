package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// watchConfig 설정 파일 변경을 감시하고 변경 시 다시 읽어 통지한다
func watchConfig(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("config file changed: %s", e.Name)

		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Printf("reload config failed: %v", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Printf("reloaded config invalid, keeping previous: %v", err)
			return
		}
		if onChange != nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}
