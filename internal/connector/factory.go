package connector

import (
	"net/http"
	"sync"
	"time"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

// Factory builds and caches connector instances per tenant. Instances
// are keyed tenant:connector because each tenant carries its own
// credentials, limits, and breaker state.
type Factory struct {
	client *http.Client
	logger observability.Logger

	mu        sync.Mutex
	instances map[string]Connector
}

// NewFactory creates a factory with one shared HTTP client across all
// connectors.
func NewFactory(logger observability.Logger) *Factory {
	if logger == nil {
		logger = observability.NewLogger("connector.factory")
	}
	return &Factory{
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		instances: make(map[string]Connector),
	}
}

// Get returns the connector instance for a tenant's connector config,
// building it on first use. Built-in connector IDs get the dedicated
// implementation; anything else takes the manifest-driven generic path.
func (f *Factory) Get(tenantID string, cfg *models.ConnectorConfig) Connector {
	key := tenantID + ":" + cfg.ConnectorID

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.instances[key]; ok {
		return c
	}

	var c Connector
	switch cfg.ConnectorID {
	case "github":
		c = NewGitHub(cfg, f.client, f.logger.WithPrefix("github"))
	case "jira":
		c = NewJira(cfg, f.client, f.logger.WithPrefix("jira"))
	case "linear":
		c = NewLinear(cfg, f.client, f.logger.WithPrefix("linear"))
	default:
		c = NewGeneric(cfg, f.client, f.logger.WithPrefix(cfg.ConnectorID))
	}
	f.instances[key] = c
	return c
}

// Evict drops a tenant's cached instances, called after a config
// reload so new credentials and limits take effect.
func (f *Factory) Evict(tenantID string) {
	prefix := tenantID + ":"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.instances {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(f.instances, key)
		}
	}
}
