package secdb

import (
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	rootOnce sync.Once
	rootDir  string
)

// Root resolves the process-wide database root directory. It is read once:
// the SECDB_ROOT environment variable, then an optional secdb.yaml in the
// working directory, then the default "db". Code that needs a different
// root passes it to New explicitly.
func Root() string {
	rootOnce.Do(func() {
		v := viper.New()
		v.SetConfigName("secdb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.SetEnvPrefix("secdb")
		v.SetDefault("root", "db")
		if err := v.BindEnv("root"); err != nil {
			log.Warn("secdb: cannot bind root env", zap.Error(err))
		}

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				log.Warn("secdb: cannot read config", zap.Error(err))
			}
		}
		rootDir = v.GetString("root")
	})
	return rootDir
}
