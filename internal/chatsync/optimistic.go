package chatsync

// applyOptimistic runs a local mutation ahead of its remote commit and
// restores the pre-mutation snapshot if the commit fails. snap and restore
// own any locking; apply runs between them under the same guarantees the
// caller arranged.
func applyOptimistic[S any](snap func() S, apply func(), commit func() error, restore func(S)) error {
	before := snap()
	apply()
	if err := commit(); err != nil {
		restore(before)
		return err
	}
	return nil
}
