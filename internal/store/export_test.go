package store

// SetRenameFile replaces the compaction rename step and returns a restore
// function.
func SetRenameFile(fn func(oldpath, newpath string) error) (restore func()) {
	prev := renameFile
	renameFile = fn
	return func() { renameFile = prev }
}
