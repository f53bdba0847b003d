// internal/utils/logger/config.go
package logger

type Config struct {
	LogFile     string
	MaxSize     int  // megabytes
	MaxAge      int  // days
	MaxBackups  int  // files kept
	Compress    bool // gzip rotated files
	Development bool
}

// DefaultConfig returns the stock rotation settings.
func DefaultConfig() *Config {
	return &Config{
		LogFile:     "logs/papertrader.log",
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: false,
	}
}
