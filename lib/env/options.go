package env

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/prefetch"
	"github.com/ValentinKolb/txKV/lib/writer"
)

// --------------------------------------------------------------------------
// Environment Options
// --------------------------------------------------------------------------

// Options configures an environment.
type Options struct {
	// Engine selects the storage engine (default bolt).
	Engine engine.Implementation
	// MapSize bounds the data size of engines with a map size.
	MapSize int64
	// MaxKeySize bounds key sizes (0 = engine default).
	MaxKeySize int
	// NoSync skips fsync on commit; Environment.Sync flushes.
	NoSync bool
	// CacheSize is the block cache size of the pebble engine.
	CacheSize int64
	// Compression configures the shared codec used by databases opened with
	// DBOptions.Compression. Nil disables shared compression.
	Compression *codec.Options
	// Writer configures the write scheduler.
	Writer writer.Options
	// PrefetchWorkers bounds concurrent asynchronous prefetches.
	PrefetchWorkers int
	// DeleteOnClose removes the environment's files when its last handle closes.
	DeleteOnClose bool
}

// DefaultOptions returns the default environment options.
func DefaultOptions() Options {
	return Options{
		Engine:          engine.ImplBolt,
		MapSize:         1 << 30,
		Writer:          writer.DefaultOptions(),
		PrefetchWorkers: prefetch.DefaultWorkers,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Engine == "" {
		o.Engine = def.Engine
	}
	if o.MapSize <= 0 {
		o.MapSize = def.MapSize
	}
	if o.PrefetchWorkers <= 0 {
		o.PrefetchWorkers = def.PrefetchWorkers
	}
	if o.Writer == (writer.Options{}) {
		o.Writer = def.Writer
	}
	return o
}

// String returns a formatted representation of the options
func (o Options) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Engine", string(o.Engine))
	addField("Map Size", fmt.Sprintf("%d MiB", o.MapSize>>20))
	addField("Max Key Size", strconv.Itoa(o.MaxKeySize))
	addField("No Sync", strconv.FormatBool(o.NoSync))
	addField("Delete On Close", strconv.FormatBool(o.DeleteOnClose))
	if o.Engine == engine.ImplPebble {
		addField("Cache Size", fmt.Sprintf("%d MiB", o.CacheSize>>20))
	}

	addSection("Compression")
	if o.Compression == nil {
		addField("Algorithm", "none")
	} else {
		addField("Algorithm", string(o.Compression.Algorithm))
		addField("Threshold", fmt.Sprintf("%d bytes", o.Compression.Threshold))
		addField("Dictionary", fmt.Sprintf("%d bytes", len(o.Compression.Dictionary)))
	}

	addSection("Writer")
	addField("Max Batch Wait", o.Writer.MaxBatchWait.String())
	addField("Max Batch Size", strconv.Itoa(o.Writer.MaxBatchSize))
	addField("Max Pending", strconv.Itoa(o.Writer.MaxPending))
	addField("Prefetch Workers", strconv.Itoa(o.PrefetchWorkers))

	return sb.String()
}

// --------------------------------------------------------------------------
// Database Options
// --------------------------------------------------------------------------

// KeyType describes how keys of a database are interpreted.
type KeyType int

const (
	// KeyBinary keys are arbitrary byte strings.
	KeyBinary KeyType = iota
	// KeyString keys must be valid UTF-8.
	KeyString
	// KeyUint32 keys are 4 byte big endian integers (see Uint32Key).
	KeyUint32
)

func (k KeyType) String() string {
	switch k {
	case KeyBinary:
		return "binary"
	case KeyString:
		return "string"
	case KeyUint32:
		return "uint32"
	default:
		return fmt.Sprintf("KeyType(%d)", int(k))
	}
}

// DBOptions configures a named database.
type DBOptions struct {
	// Create creates the database if it does not exist.
	Create bool
	// KeyType of the database. Fixed at creation.
	KeyType KeyType
	// DupSort allows several sorted values per key. Fixed at creation.
	DupSort bool
	// Compression routes values through the environment's shared codec.
	Compression bool
	// Codec is a database specific codec; it takes precedence over Compression.
	Codec *codec.Codec
	// Versions stores a version with every value.
	Versions bool
}

func (o DBOptions) validate() error {
	if o.DupSort && (o.Compression || o.Codec != nil || o.Versions) {
		return fmt.Errorf("%w: duplicate-key databases store values verbatim (no compression, no versions)", ErrIncompatibleOptions)
	}
	if o.KeyType < KeyBinary || o.KeyType > KeyUint32 {
		return fmt.Errorf("%w: key type %s", ErrIncompatibleOptions, o.KeyType)
	}
	return nil
}

func (o DBOptions) flags() engine.DBFlags {
	var flags engine.DBFlags
	if o.Create {
		flags |= engine.DBCreate
	}
	if o.DupSort {
		flags |= engine.DBDupSort
	}
	if o.KeyType == KeyUint32 {
		flags |= engine.DBIntegerKey
	}
	return flags
}

// compatible reports whether a handle with opts may share the state of an
// already open database opened with o
func (o DBOptions) compatible(opts DBOptions) bool {
	return o.KeyType == opts.KeyType &&
		o.DupSort == opts.DupSort &&
		o.Versions == opts.Versions &&
		o.Compression == opts.Compression &&
		o.Codec == opts.Codec
}
