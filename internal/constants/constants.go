package constants

// Advisory lock IDs. They share the key space of pg_advisory_lock with anything else on
// the database, so they start well above zero.
const (
	MigrationLock = iota + 48_200
	StaleSweepLock
)

var Locks = []int{
	MigrationLock,
	StaleSweepLock,
}

const (
	// MaxReportBodyBytes caps a worker report or decision request body.
	MaxReportBodyBytes = 1 << 20
)
