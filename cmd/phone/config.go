package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// appConfig конфигурация бинарника: учетная запись, локальный транспорт
// и адрес метрик
type appConfig struct {
	Registrar   string `mapstructure:"registrar"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`

	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
	UserAgent  string `mapstructure:"user_agent"`
	Expires    int    `mapstructure:"expires"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	AudioOut    string `mapstructure:"audio_out"`
	Debug       bool   `mapstructure:"debug"`
}

// loadConfig читает yaml конфиг и переменные окружения с префиксом PHONE.
// Отсутствие файла не ошибка, значения берутся из окружения и умолчаний.
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	v.SetEnvPrefix("PHONE")
	v.AutomaticEnv()

	v.SetDefault("listen_host", "127.0.0.1")
	v.SetDefault("listen_port", 5060)
	v.SetDefault("user_agent", "Phone/1.0")
	v.SetDefault("expires", 3600)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("audio_out", "")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("конфиг %s не прочитан: %v, используются окружение и умолчания\n", path, err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
