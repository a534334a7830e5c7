package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ossp-agi/agentmesh/internal/api"
	"github.com/ossp-agi/agentmesh/internal/discovery"
	"github.com/ossp-agi/agentmesh/internal/meshtrace"
	"github.com/ossp-agi/agentmesh/internal/registry"
)

// loadViper builds a *viper.Viper bound to MESHD_-prefixed environment
// variables (dots replaced with underscores, a common config-loader
// convention) plus an optional config file.
func loadViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("meshd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	reg := registry.DefaultConfig()
	v.SetDefault("registry.dataDir", reg.DataDir)
	v.SetDefault("registry.indexFile", reg.IndexFile)
	v.SetDefault("registry.agentsDir", reg.AgentsDir)
	v.SetDefault("registry.maxAgents", reg.MaxAgents)
	v.SetDefault("registry.indexUpdateInterval", reg.IndexUpdateInterval)
	v.SetDefault("registry.enableLogging", reg.EnableLogging)

	disc := discovery.DefaultConfig()
	v.SetDefault("discovery.maxResults", disc.MaxResults)
	v.SetDefault("discovery.cacheTtl", disc.CacheTTL)
	v.SetDefault("discovery.enableCaching", disc.EnableCaching)
	v.SetDefault("discovery.enableLogging", disc.EnableLogging)
	v.SetDefault("discovery.healthProbeTimeout", disc.HealthProbeTimeout)

	apiCfg := api.DefaultConfig()
	v.SetDefault("api.port", apiCfg.Port)
	v.SetDefault("api.host", apiCfg.Host)
	v.SetDefault("api.cors.origins", apiCfg.CORSOrigins)
	v.SetDefault("api.cors.methods", apiCfg.CORSMethods)
	v.SetDefault("api.cors.headers", apiCfg.CORSHeaders)
	v.SetDefault("api.rateLimit.windowMs", apiCfg.RateLimit.WindowMs)
	v.SetDefault("api.rateLimit.max", apiCfg.RateLimit.Max)
	v.SetDefault("api.enableLogging", apiCfg.EnableLogging)

	logCfg := meshtrace.DefaultConfig()
	v.SetDefault("logger.level", int(logCfg.Level))
	v.SetDefault("logger.enableConsole", logCfg.EnableConsole)
	v.SetDefault("logger.enableTracing", logCfg.EnableTracing)
	v.SetDefault("logger.enableMetrics", logCfg.EnableMetrics)
	v.SetDefault("logger.logFormat", string(logCfg.LogFormat))
}

func registryConfigFromViper(v *viper.Viper) registry.Config {
	return registry.Config{
		DataDir:             v.GetString("registry.dataDir"),
		IndexFile:           v.GetString("registry.indexFile"),
		AgentsDir:           v.GetString("registry.agentsDir"),
		MaxAgents:           v.GetInt("registry.maxAgents"),
		IndexUpdateInterval: v.GetDuration("registry.indexUpdateInterval"),
		EnableLogging:       v.GetBool("registry.enableLogging"),
	}
}

func discoveryConfigFromViper(v *viper.Viper) discovery.Config {
	return discovery.Config{
		MaxResults:         v.GetInt("discovery.maxResults"),
		CacheTTL:           v.GetDuration("discovery.cacheTtl"),
		EnableCaching:      v.GetBool("discovery.enableCaching"),
		EnableLogging:      v.GetBool("discovery.enableLogging"),
		HealthProbeTimeout: durationOrDefault(v.GetDuration("discovery.healthProbeTimeout"), 3*time.Second),
	}
}

func apiConfigFromViper(v *viper.Viper) api.Config {
	return api.Config{
		Port:        v.GetInt("api.port"),
		Host:        v.GetString("api.host"),
		CORSOrigins: v.GetStringSlice("api.cors.origins"),
		CORSMethods: v.GetStringSlice("api.cors.methods"),
		CORSHeaders: v.GetStringSlice("api.cors.headers"),
		RateLimit: api.RateLimitConfig{
			WindowMs: v.GetInt("api.rateLimit.windowMs"),
			Max:      v.GetInt("api.rateLimit.max"),
		},
		EnableLogging: v.GetBool("api.enableLogging"),
	}
}

func loggerConfigFromViper(v *viper.Viper) meshtrace.Config {
	return meshtrace.Config{
		Level:         meshtrace.Level(v.GetInt("logger.level")),
		EnableConsole: v.GetBool("logger.enableConsole"),
		EnableTracing: v.GetBool("logger.enableTracing"),
		EnableMetrics: v.GetBool("logger.enableMetrics"),
		LogFormat:     meshtrace.LogFormat(v.GetString("logger.logFormat")),
	}
}

func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
