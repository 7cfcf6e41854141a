// Package store persists the short-term memory of agent threads.
//
// Every step of an agent run is saved as a Checkpoint keyed by thread id (the
// task id). A run that is interrupted for human review, or a worker that dies
// mid-run, continues from the latest checkpoint of its thread.
//
// Backends live in sub-packages and all satisfy CheckpointStore:
//
//   - postgres: the production backend, JSONB state in a single table
//   - redis: one key per checkpoint plus a sorted-set index per thread
//   - sqlite: a local file, useful for single-node deployments
//   - memory: process-local, used by tests
//
// # Example
//
//	cps, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{
//		ConnString: cfg.Postgres.DSN,
//	})
//	if err != nil {
//		return err
//	}
//	if err := cps.InitSchema(ctx); err != nil {
//		return err
//	}
//
//	latest, err := cps.Latest(ctx, taskID)
//	if errors.Is(err, store.ErrCheckpointNotFound) {
//		// fresh thread
//	}
package store
