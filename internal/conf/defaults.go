// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// UnnamedLabel is used for exhibition and venue when no label is configured
const UnnamedLabel = "(unnamed)"

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "scanrelay")
	v.SetDefault("main.origin", "")

	v.SetDefault("context.exhibition", "")
	v.SetDefault("context.venue", "")

	v.SetDefault("capture.mode", "qr")
	v.SetDefault("capture.source", "line")
	v.SetDefault("capture.device", "-")
	v.SetDefault("capture.autostart", true)
	v.SetDefault("capture.autosave", true)
	v.SetDefault("capture.history", 50)

	v.SetDefault("endpoint.url", "")
	v.SetDefault("endpoint.timeout", 15*time.Second)
	v.SetDefault("endpoint.fallback.enabled", true)
	v.SetDefault("endpoint.fallback.timeout", 10*time.Second)
	v.SetDefault("endpoint.fallback.maxpayload", 1800)

	v.SetDefault("queue.backend", "file")
	v.SetDefault("queue.path", "data/queue.json")
	v.SetDefault("queue.dsn", "")
	v.SetDefault("queue.key", "scan_queue")
	v.SetDefault("queue.drain.interval", 0)
	v.SetDefault("queue.drain.ratelimit", 0)

	v.SetDefault("location.enabled", false)
	v.SetDefault("location.provider", "static")
	v.SetDefault("location.latitude", 0.0)
	v.SetDefault("location.longitude", 0.0)
	v.SetDefault("location.url", "")
	v.SetDefault("location.timeout", 3*time.Second)
	v.SetDefault("location.cachettl", 5*time.Minute)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.clientid", "scanrelay")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.detectiontopic", "scanrelay/detections")
	v.SetDefault("mqtt.statustopic", "")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", "127.0.0.1:8080")

	v.SetDefault("stats.days", 7)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/scanrelay.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
