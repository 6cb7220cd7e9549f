// Package store persists rule-violation events in a local SQLite
// database so operators can review what a policy denied (or would have
// denied, for audit-only rules) after the fact.
//
// The decision path never waits on the database: the engine hands
// decisions to a recorder, and recording failures are logged, not
// propagated.
package store
