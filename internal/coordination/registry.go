package coordination

import "fmt"

// Factory constructs a Backend from a mechanism's backend_settings.
type Factory func(settings map[string]interface{}) (Backend, error)

var registry = map[string]Factory{
	"filesystem":       func(s map[string]interface{}) (Backend, error) { return NewFilesystemBackend(s) },
	"filesystem_nudge": func(s map[string]interface{}) (Backend, error) { return NewFilesystemBackend(s) },
	"nats":             func(s map[string]interface{}) (Backend, error) { return NewNATSBackend(s) },
}

// Create constructs the backend registered under mechanism.
func Create(mechanism string, settings map[string]interface{}) (Backend, error) {
	factory, ok := registry[mechanism]
	if !ok {
		available := make([]string, 0, len(registry))
		for name := range registry {
			available = append(available, name)
		}
		return nil, fmt.Errorf("unknown coordination mechanism %q, available: %v", mechanism, available)
	}
	return factory(settings)
}

// Register adds (or replaces) a mechanism in the registry.
func Register(name string, factory Factory) {
	registry[name] = factory
}
