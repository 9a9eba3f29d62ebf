package schema

// Custom string types for type safety.
type (
	// CollectionType names a filtered view of the remote activity feed.
	CollectionType string

	// EnrichmentKind represents one lazily fetched sub-resource of an item.
	EnrichmentKind string

	// DatabaseBackend represents the backend for snapshot and ledger storage.
	DatabaseBackend string

	// ReadSource tags which tier served a cache read.
	ReadSource string

	// RefreshState is a step of the refresher state machine.
	RefreshState string

	// RunKind distinguishes refresh runs from audit runs in the ledger.
	RunKind string

	// OutputMode represents the format of the output.
	OutputMode string
)

// All collection types supported.
const (
	ActivitiesCollection CollectionType = "activities" // default
	RunsCollection       CollectionType = "runs"
	RidesCollection      CollectionType = "rides"
)

// All enrichment kinds supported.
const (
	PhotosKind      EnrichmentKind = "photos"
	CommentsKind    EnrichmentKind = "comments"
	DescriptionKind EnrichmentKind = "description"
	GeoKind         EnrichmentKind = "geo"
)

// All storage backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
	RedisBackend      DatabaseBackend = "redis"
	NoneBackend       DatabaseBackend = "none"
)

// All read sources.
const (
	FromMemory ReadSource = "memory"
	FromStore  ReadSource = "store"
	FromEmpty  ReadSource = "empty"
)

// All refresher states.
const (
	StateIdle                  RefreshState = "idle"
	StateAcquiringToken        RefreshState = "acquiring_token"
	StateFetchingBasicList     RefreshState = "fetching_basic_list"
	StateIdentifyingNewOrStale RefreshState = "identifying_new_or_stale"
	StateEnrichingBatch        RefreshState = "enriching_batch"
	StateMerging               RefreshState = "merging"
	StateFailed                RefreshState = "failed"
)

// All run kinds.
const (
	RefreshRun RunKind = "refresh"
	AuditRun   RunKind = "audit"
)

// All output modes supported.
const (
	TextOut OutputMode = "text" // default
	JSONOut OutputMode = "json"
)

// AllEnrichmentKinds lists enrichment kinds in fetch order.
var AllEnrichmentKinds = []EnrichmentKind{PhotosKind, CommentsKind, DescriptionKind, GeoKind}

// ValidCollectionTypes lists all valid collection types.
var ValidCollectionTypes = map[CollectionType]struct{}{
	ActivitiesCollection: {},
	RunsCollection:       {},
	RidesCollection:      {},
}

// ValidDatabaseBackends lists all valid snapshot store backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
	RedisBackend:      {},
	NoneBackend:       {},
}

// ValidLedgerBackends lists the backends that can hold the run ledger.
var ValidLedgerBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
	NoneBackend:       {},
}

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	TextOut: {},
	JSONOut: {},
}

// DefaultActivityTypes returns the activity types a collection keeps when no
// explicit type list is configured. A nil result means every type is kept.
func DefaultActivityTypes(ct CollectionType) []string {
	switch ct {
	case RunsCollection:
		return []string{"Run", "TrailRun", "VirtualRun"}
	case RidesCollection:
		return []string{"Ride", "VirtualRide", "GravelRide", "MountainBikeRide", "EBikeRide"}
	default: // ActivitiesCollection
		return nil
	}
}
