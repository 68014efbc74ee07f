// Package watcher triggers reindexing of repositories by polling.
//
// A PollingWatcher keeps an in-memory snapshot of each eligible file's
// hash, mtime and size. On every tick it re-enumerates the repository with
// the same rules as indexing and, when anything differs, invokes its
// ChangeFunc synchronously. The snapshot only decides whether a tick is
// worth a run; the run itself re-derives changes from the ledger. Paths stay
// pending, and are offered again on later ticks, until ChangeFunc returns nil.
//
// Usage:
//
//	m := watcher.NewManager(sc, logger)
//	h, err := m.Start(ctx, repo, runner.OnChange(repo.Name))
//	if err != nil {
//	    return err
//	}
//	defer m.StopAll()
//	<-h.Done()
package watcher
