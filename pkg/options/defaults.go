package options

const (
	// DefaultDataDir specifies the default directory where the store's
	// single arena file lives.
	DefaultDataDir = "/var/lib/pstore"

	// DefaultArenaFileName is the name of the single growable backing file
	// within DataDir.
	DefaultArenaFileName = "store.pst"

	// MinRegionSize is the smallest region size WithRegionSize will accept.
	// Independently, the region manager raises any configured size below
	// the OS page size to the page size at runtime.
	MinRegionSize uint64 = 64 * 1024

	// DefaultRegionSize is the default mapping granule: a few megabytes, as
	// spec §4.1 recommends.
	DefaultRegionSize uint64 = 4 * 1024 * 1024

	// MaxRegionSize bounds how large a single region is allowed to be, to
	// keep remap churn and address-space fragmentation predictable.
	MaxRegionSize uint64 = 1024 * 1024 * 1024
)

// VacuumMode controls whether a background compactor may run. The compactor
// itself is out of scope for this module (spec.md Non-goals); the option is
// retained because it is part of the configuration surface spec §6 names,
// and a future compactor would read it.
type VacuumMode string

const (
	// VacuumDisabled never runs a background compactor.
	VacuumDisabled VacuumMode = "disabled"

	// VacuumBackground permits a background compactor thread to run. No
	// compactor ships in this module; see DESIGN.md.
	VacuumBackground VacuumMode = "background"
)

// AccessMode controls whether the database may accept write transactions.
type AccessMode string

const (
	// AccessReadWrite permits both readers and a single writer.
	AccessReadWrite AccessMode = "read_write"

	// AccessReadOnly permits only readers; BeginTransaction fails.
	AccessReadOnly AccessMode = "read_only"
)

// defaultOptions holds the default configuration for a new database.
var defaultOptions = Options{
	DataDir:    DefaultDataDir,
	FileName:   DefaultArenaFileName,
	RegionSize: DefaultRegionSize,
	VacuumMode: VacuumDisabled,
	AccessMode: AccessReadWrite,
}

// NewDefaultOptions returns a fresh copy of the default configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
