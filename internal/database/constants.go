package database

// HNSW parameters for the in-memory accelerator
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier over-fetches candidates so owner and distance
	// filtering still leaves enough results.
	HNSWSearchMultiplier = 3

	// HNSWMinCandidates is the floor for over-fetching.
	HNSWMinCandidates = 100
)

// Person ranking
const (
	// PersonRankLimit caps PersonsRankedForOwner.
	PersonRankLimit = 500

	// DefaultMinimumFaceCount applies when PersonSearchOptions.MinimumFaceCount is unset.
	DefaultMinimumFaceCount = 1
)

// Reassignment retry policy
const (
	// ReassignMaxAttempts bounds whole-transaction retries on TransactionAborted.
	ReassignMaxAttempts = 3

	// ReassignMaxRescans bounds returns to Scanning after ConflictDuringReassign.
	ReassignMaxRescans = 3
)
