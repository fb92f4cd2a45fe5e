// Package metrics exposes prometheus collectors for test context outcomes
// and resource provisioning.
//
// Collectors are registered on a caller supplied prometheus.Registerer so
// independent orchestrators do not collide on the global registry.
package metrics
