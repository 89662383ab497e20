package discussions

import (
	"fmt"
	"log"

	"github.com/creastat/discussions/vectorstore"
	"github.com/creastat/discussions/vectorstore/memory"
	"github.com/creastat/discussions/vectorstore/qdrant"
	redisstore "github.com/creastat/discussions/vectorstore/redis"
	"github.com/creastat/discussions/vectorstore/supabase"
)

// openIndex creates the driver selected by cfg. It only builds clients;
// no index is created or bound here.
func openIndex(cfg Config, logger *log.Logger) (vectorstore.Index, error) {
	switch cfg.Driver {
	case DriverQdrant:
		return qdrant.New(qdrant.Config{
			URL:          cfg.Environment,
			APIKey:       cfg.APIKey,
			ReadyTimeout: cfg.ReadyTimeout,
			Logger:       logger,
		})

	case DriverRedis:
		return redisstore.New(redisstore.Config{
			Addr:     cfg.Environment,
			Password: cfg.APIKey,
			Logger:   logger,
		})

	case DriverSupabase:
		return supabase.New(supabase.Config{
			URL:    cfg.Environment,
			APIKey: cfg.APIKey,
		})

	case DriverMemory:
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
