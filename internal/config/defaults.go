package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"store": map[string]interface{}{
			"path": "~/.callminder/reminders.db",
		},
		"lifecycle": map[string]interface{}{
			"initial": "foreground",
		},
		"detector": map[string]interface{}{
			"foreground": map[string]interface{}{
				"interval":  "15s",
				"tolerance": "120s",
			},
			"background": map[string]interface{}{
				"interval":  "30s",
				"tolerance": "60s",
			},
		},
		"call": map[string]interface{}{
			"snooze_minutes":    5,
			"end_policy":        "leave",
			"handled_retention": "10m",
			"ring_timeout":      "60s",
		},
		"notifications": map[string]interface{}{
			"enabled":    true,
			"call_delay": "1s",
		},
		"telegram": map[string]interface{}{
			"bot_token":    "",
			"chat_id":      "",
			"poll_timeout": "30s",
			"base_url":     "https://api.telegram.org",
		},
		"log": map[string]interface{}{
			"level":   "info",
			"journal": false,
		},
		"metrics": map[string]interface{}{
			"listen": "",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.callminder/config.yaml"
}
