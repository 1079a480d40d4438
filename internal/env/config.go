package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// Host the connect command dials
	Host string `env:"RELAY_HOST,default=127.0.0.1"`

	// Port the server listens on, and the connect command dials
	Port int `env:"RELAY_PORT,default=60000"`

	// BindAddress restricts the listener to one interface, empty binds all
	BindAddress string `env:"RELAY_BIND_ADDRESS"`

	HTTPPort string `env:"RELAY_HTTP_PORT,default=7362"`

	// MaxMessages bounds how many messages one Update hands out, -1 is no limit
	MaxMessages int `env:"RELAY_MAX_MESSAGES,default=-1"`

	// UpdateWait makes Update block until a message arrives
	UpdateWait bool `env:"RELAY_UPDATE_WAIT,default=true"`

	Reuseport bool `env:"RELAY_REUSEPORT"`

	// MaxBodySize bounds the body a peer may announce, 0 is no limit
	MaxBodySize int `env:"RELAY_MAX_BODY_SIZE,default=0"`

	DebugHTTP bool `env:"RELAY_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadConfigFrom is LoadConfig without the process environment, values come
// from lookup alone.
func LoadConfigFrom(ctx context.Context, lookup map[string]string) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, envconfig.MapLookuper(lookup)); err != nil {
		return nil, err
	}

	return &config, nil
}
