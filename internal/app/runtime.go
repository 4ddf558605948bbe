package app

import (
	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/database"
)

// JWTServiceConfig adapts the loaded configuration into the JWT service form.
func (c *Config) JWTServiceConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         c.Auth.JWT.Secret,
		Issuer:         c.Auth.JWT.Issuer,
		AccessTokenTTL: c.Auth.JWT.TTL,
	}
}

// DatabaseSettings adapts the loaded configuration into the database layer form.
func (c *Config) DatabaseSettings() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch cfg.Driver {
	case "postgres":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
	case "mysql":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
	}

	return cfg
}

// RedisClientConfig adapts the loaded configuration into the cache layer form.
func (c *Config) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Cache.Redis.Address,
		Username: c.Cache.Redis.Username,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
		TLS:      c.Cache.Redis.TLS,
		Timeout:  c.Cache.Redis.Timeout,
	}
}
