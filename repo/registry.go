package repo

import "sync"

// Registry caches store-client handles per endpoint and records which tables
// have already been provisioned, so repeated repository construction against
// the same endpoint reuses one client and provisions at most once per process.
//
// A Registry is owned by the application's composition root and shared across
// repositories via WithRegistry. Entries live for the process lifetime; the
// memory trade is deliberate to avoid reconnect churn.
type Registry struct {
	mu          sync.Mutex
	clients     map[string]DynamoAPI
	provisioned map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:     make(map[string]DynamoAPI),
		provisioned: make(map[string]struct{}),
	}
}

// Client returns the handle for endpoint, building it with build on first use.
// Concurrent first callers for the same endpoint observe exactly one handle;
// build runs under the registry lock so there is a single winner.
func (r *Registry) Client(endpoint string, build func() (DynamoAPI, error)) (DynamoAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[endpoint]; ok {
		return client, nil
	}
	client, err := build()
	if err != nil {
		return nil, err
	}
	r.clients[endpoint] = client
	return client, nil
}

// MarkProvisioned records the endpoint+table pair and reports whether this
// call was the first to see it, so the caller knows whether to run
// provisioning side effects.
func (r *Registry) MarkProvisioned(endpoint, table string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := endpoint + "||" + table
	if _, ok := r.provisioned[key]; ok {
		return false
	}
	r.provisioned[key] = struct{}{}
	return true
}
