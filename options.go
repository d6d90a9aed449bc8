package flux

import "github.com/xiaokanchengyang/flux/config"

// WithConfig seeds PackOptions from the persisted configuration defaults.
//
// Pass it first so later option functions can still override individual fields:
//
//	cfg, _ := config.Load()
//	flux.Pack(ctx, inputs, output, flux.WithConfig(cfg), func(o *flux.PackOptions) { o.Level = 9 })
//
// Per-path [[rules]] remain available through config.Config.RuleFor for front-ends that prompt per entry.
func WithConfig(c *config.Config) func(*PackOptions) {
	return func(o *PackOptions) {
		o.Smart = c.Compression.SmartStrategy
		o.Algorithm = c.Compression.DefaultAlgorithm
		o.Level = c.Compression.DefaultLevel
		o.ForceCompress = c.Compression.ForceCompress
		o.FollowSymlinks = c.Archive.FollowSymlinks
		o.Threads = c.Performance.Threads
	}
}
