package preflight

// Plan selects the checks that run before a batch of backup or restore tasks.
type Plan struct {
	DataDirAccessible bool
	DataDirWritable   bool
	BackupSetReadable bool

	// Global Flags
	DryRun bool
}
