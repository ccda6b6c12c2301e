package gateway

import (
	"fmt"
	"strings"

	"fieldsync/internal/fieldsync"
)

// DefaultRoutes maps each entity type to its REST collection path.
var DefaultRoutes = map[fieldsync.EntityType]string{
	fieldsync.EntityOrder:    "/orders",
	fieldsync.EntityCustomer: "/customers",
	fieldsync.EntityMaterial: "/inventory/materials",
	fieldsync.EntityTask:     "/tasks",
	fieldsync.EntityInvoice:  "/financial/invoices",
	fieldsync.EntityPayment:  "/financial/payments",
}

// ResolveRoutes applies config overrides (keyed by entity type name) on top
// of DefaultRoutes.
func ResolveRoutes(overrides map[string]string) (map[fieldsync.EntityType]string, error) {
	routes := make(map[fieldsync.EntityType]string, len(DefaultRoutes))
	for t, path := range DefaultRoutes {
		routes[t] = path
	}
	for name, path := range overrides {
		t, err := fieldsync.ParseEntityType(name)
		if err != nil {
			return nil, fmt.Errorf("route override: %w", err)
		}
		if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
			return nil, fmt.Errorf("route for %s must start and not end with '/': %q", name, path)
		}
		routes[t] = path
	}
	return routes, nil
}

// RoutePaths returns the collection paths of routes.
func RoutePaths(routes map[fieldsync.EntityType]string) []string {
	paths := make([]string, 0, len(routes))
	for _, path := range routes {
		paths = append(paths, path)
	}
	return paths
}
