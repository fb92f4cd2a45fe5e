package descriptor

import (
	"reflect"

	"testbed/internal/api"
)

// Metadata kinds understood by the built-in inspectors.
const (
	KindModule        = "module"
	KindScan          = "scan"
	KindResource      = "resource"
	KindField         = "field"
	KindConfigHandler = "config-handler"
	KindStrategy      = "strategy"
	KindBackend       = "backend"
	KindMockProvider  = "mock-provider"
	KindVerify        = "verify"
	KindInstrument    = "instrument"
)

// Metadata is a single piece of declarative fixture metadata.
// Values that do not implement it are ignored by the analyzer.
type Metadata interface {
	MetadataKind() string
}

// Declarer is implemented by fixtures (and scanned types) that carry
// class level metadata.
type Declarer interface {
	Declare() []any
}

// Module declares a unit of dependency injection configuration.
type Module api.Module

func (Module) MetadataKind() string { return KindModule }

// Scan registers struct types for auto-wiring. Scanned types that
// implement Declarer are analyzed as well.
type Scan struct {
	Types []reflect.Type
}

func (Scan) MetadataKind() string { return KindScan }

// ScanOf returns a Scan for T.
func ScanOf[T any]() Scan {
	return Scan{Types: []reflect.Type{reflect.TypeFor[T]()}}
}

// Resource declares an external dependency.
type Resource struct {
	Kind     api.ResourceKind
	Name     string
	Provider string
	// Properties are handed to the provider raw. Values may be templates
	// referencing other resources.
	Properties map[string]string
	Strategy   api.StartStrategy
	DependsOn  []string
}

func (Resource) MetadataKind() string { return KindResource }

// Field declares how a fixture field is populated. Struct tags are turned
// into Field values, so both forms can be mixed.
type Field struct {
	Name         string
	Substitution api.SubstitutionKind
	Binding      string
	Resource     string
	ResourceKey  string
}

func (Field) MetadataKind() string { return KindField }

// ConfigHandler receives backend specific configuration objects (the
// service backend config and every resource config) before they are used.
// Handlers ignore types they do not know.
type ConfigHandler func(config any) error

func (ConfigHandler) MetadataKind() string { return KindConfigHandler }

// Strategy sets the fixture wide resource start strategy.
type Strategy api.StartStrategy

func (Strategy) MetadataKind() string { return KindStrategy }

// Backend selects a service resolution provider by name.
type Backend string

func (Backend) MetadataKind() string { return KindBackend }

// MockProvider selects a mock provider by name.
type MockProvider string

func (MockProvider) MetadataKind() string { return KindMockProvider }

// Verify requests interaction verification of all fakes after the run.
type Verify struct{}

func (Verify) MetadataKind() string { return KindVerify }

// Instrument restricts the instrumentation providers installed for the
// fixture. An empty list disables instrumentation providers entirely.
type Instrument struct {
	Providers []string
}

func (Instrument) MetadataKind() string { return KindInstrument }
