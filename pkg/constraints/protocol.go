package constraints

// Flag value types. The type of a flag is fixed when it is created.
const (
	TypeBool   = "bool"
	TypeString = "string"
	TypeNumber = "number"
	TypeJSON   = "json"
	// TypeStrategy indicates a flag whose value is a rollout strategy
	// (whitelist and percentage) rather than a literal.
	TypeStrategy = "strategy"
)

// Audit actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// SSE event names.
const (
	EventMessage = "message"
	EventPing    = "ping"
)

// DefaultNamespace and DefaultEnv are used by read endpoints when the caller
// leaves the scope out.
const (
	DefaultNamespace = "default"
	DefaultEnv       = "dev"
)

// Identity limits, enforced on every write and sized into the storage
// columns.
const (
	MaxNamespaceLen = 64
	MaxEnvLen       = 32
	MaxKeyLen       = 128
)

// MaxEtcdPrefixLen keeps the longest etcd flag path within the outbox key
// column.
const MaxEtcdPrefixLen = 256

func ValidType(t string) bool {
	switch t {
	case TypeBool, TypeString, TypeNumber, TypeJSON, TypeStrategy:
		return true
	}
	return false
}
