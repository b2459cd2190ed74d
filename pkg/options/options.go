// Package options provides data structures and functions for configuring a
// pstore database. It defines the parameters that control where the arena
// file lives, how large its mapping regions are, and whether the database
// accepts writes or runs a background vacuum.
package options

import "strings"

// Options defines the configuration parameters for a database instance. It
// controls storage layout and access mode; there is no segment rotation or
// compaction schedule because the store is a single growable arena file
// (SPEC_FULL.md §13).
type Options struct {
	// DataDir is the base directory holding the arena file.
	//
	// Default: "/var/lib/pstore"
	DataDir string `json:"dataDir"`

	// FileName is the name of the arena file within DataDir.
	//
	// Default: "store.pst"
	FileName string `json:"fileName"`

	// RegionSize is the mapping granule the region manager uses when it
	// maps and grows the arena file.
	//
	//  - Default: 4MB
	//  - Minimum: 64KB
	//  - Maximum: 1GB
	RegionSize uint64 `json:"regionSize"`

	// VacuumMode controls whether a background compactor may reclaim
	// unreferenced physical extents. No compactor ships with this module;
	// see DESIGN.md.
	//
	// Default: VacuumDisabled
	VacuumMode VacuumMode `json:"vacuumMode"`

	// AccessMode controls whether the database accepts write transactions.
	//
	// Default: AccessReadWrite
	AccessMode AccessMode `json:"accessMode"`
}

// OptionFunc is a function type that modifies a database's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the predefined set of default configuration
// values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithFileName sets the arena file's name within DataDir.
func WithFileName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.FileName = name
		}
	}
}

// WithRegionSize sets the mapping granule used by the region manager.
// Values outside [MinRegionSize, MaxRegionSize] are ignored.
func WithRegionSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinRegionSize && size <= MaxRegionSize {
			o.RegionSize = size
		}
	}
}

// WithVacuumMode sets whether a background compactor is permitted to run.
func WithVacuumMode(mode VacuumMode) OptionFunc {
	return func(o *Options) {
		o.VacuumMode = mode
	}
}

// WithAccessMode sets whether the database accepts write transactions.
func WithAccessMode(mode AccessMode) OptionFunc {
	return func(o *Options) {
		o.AccessMode = mode
	}
}
