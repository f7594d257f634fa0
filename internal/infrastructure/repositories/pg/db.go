package pg

// TableID audit table ID
type TableID int

const (
	// TblSyncRun table 'sync runs'
	TblSyncRun TableID = iota

	// TblChangeLog table 'change log'
	TblChangeLog
)

// SchemaName database scheme name
const SchemaName = "netsync"

// String stringer interface impl
func (tid TableID) String() string {
	return tableID2string[tid]
}

// Qualified returns the schema-qualified table name
func (tid TableID) Qualified() string {
	return SchemaName + "." + tid.String()
}

var tableID2string = map[TableID]string{
	TblSyncRun:   "tbl_sync_run",
	TblChangeLog: "tbl_change_log",
}
