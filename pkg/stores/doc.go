// Package stores provides the SQLite persistence layer for experiments,
// ensembles, realization states, parameter values, runs and the event log.
//
// Schema changes are applied with embedded golang-migrate migrations. Numeric
// vectors are stored as little-endian float64 blobs next to a JSON key list
// or shape. Every ensemble is reached through an EnsembleAccessor, which
// implements engine.EnsembleStore.
package stores
