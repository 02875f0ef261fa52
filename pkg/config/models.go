package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	NATS      NATSConfig `mapstructure:"nats"`
	Log       LogConfig
}

type ServerConfig struct {
	Address          string
	Auth             AuthConfig
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
}

type AuthConfig struct {
	// JWTSecret enables the HMAC validator. JWKSURL switches to JWKS-based
	// validation instead; Issuer is only checked when set.
	JWTSecret string `mapstructure:"jwtSecret"`
	JWKSURL   string `mapstructure:"jwksUrl"`
	Issuer    string `mapstructure:"issuer"`
	// UserServiceURL points at the backend user endpoint used for the
	// existence check; empty skips the check.
	UserServiceURL string `mapstructure:"userServiceUrl"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
}

type LogConfig struct {
	Level string
}
