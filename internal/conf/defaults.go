// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.enabled", false)
	v.SetDefault("log.path", "logs/xtmix.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.rotation", RotationDaily)
	v.SetDefault("log.maxsize", 10485760)
	v.SetDefault("log.rotationday", time.Sunday.String())

	v.SetDefault("stream.backend", "virtual")
	v.SetDefault("stream.device", "default")
	v.SetDefault("stream.rate", 48000)
	v.SetDefault("stream.sample", "f32")
	v.SetDefault("stream.inputs", 2)
	v.SetDefault("stream.inmask", 0)
	v.SetDefault("stream.outputs", 2)
	v.SetDefault("stream.outmask", 0)
	v.SetDefault("stream.interleaved", true)
	v.SetDefault("stream.raw", false)
	v.SetDefault("stream.buffer", 10.0)

	v.SetDefault("aggregate.devices", []AggregateDevice{})
	v.SetDefault("aggregate.master", 0)
	v.SetDefault("aggregate.ringperiods", 4)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "localhost:8090")

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.path", "bus.wav")
	v.SetDefault("export.buffer", 2)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
