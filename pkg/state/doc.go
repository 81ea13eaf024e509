// Package state persists pipeline progress between runs.
//
// Each recipe owns one State record holding its incremental cursor, the
// cumulative row count, and the ID of the last run that saved it. Stores also
// keep a run history so `ladle state runs` can show what happened recently.
//
// Three backends implement the Store interface:
//
//   - FileStore: one JSON file per recipe under a directory, written
//     atomically. The default for single-host setups.
//   - SQLiteStore: a SQLite database managed with embedded migrations.
//     Useful when run history needs to be queried.
//   - RedisStore: shared state for multi-worker deployments.
//
// The backend is selected from the recipe's runtime.state block via Open:
//
//	store, err := state.Open(rec.Runtime.State)
//	if err != nil {
//	    return err
//	}
//	if err := store.Init(ctx); err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	st, err := store.LoadState(ctx, rec.Name)
//	if errors.Is(err, state.ErrStateNotFound) {
//	    st = state.NewState(rec.Name)
//	}
package state
