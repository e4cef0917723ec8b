package config

const (
	defaultWorkDir              = "~/.local/share/clipforge/work"
	defaultServeDir             = "~/.local/share/clipforge/files"
	defaultStateDir             = "~/.local/share/clipforge"
	defaultLogDir               = "~/.local/share/clipforge/logs"
	defaultBackendCommand       = "npx remotion"
	defaultRenderConcurrency    = 2
	defaultPerFrameTimeoutMS    = 30000
	defaultOutputMode           = OutputModeLocal
	defaultOutputBind           = "127.0.0.1:8787"
	defaultMaxDiskMB            = 1024
	defaultMaxFiles             = 100
	defaultTTLSeconds           = 3600
	defaultSweepIntervalSeconds = 60
	defaultDelegateTool         = "upload_file"
	defaultDelegateTimeout      = 60
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir(),
			WorkDir:  defaultWorkDir,
			ServeDir: defaultServeDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Render: Render{
			BackendCommand:    defaultBackendCommand,
			Concurrency:       defaultRenderConcurrency,
			PerFrameTimeoutMS: defaultPerFrameTimeoutMS,
		},
		Output: Output{
			Mode:                 defaultOutputMode,
			Bind:                 defaultOutputBind,
			MaxDiskMB:            defaultMaxDiskMB,
			MaxFiles:             defaultMaxFiles,
			TTLSeconds:           defaultTTLSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Delegate: Delegate{
			Tool:           defaultDelegateTool,
			TimeoutSeconds: defaultDelegateTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
