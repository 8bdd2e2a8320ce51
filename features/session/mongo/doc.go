// Package mongo provides a MongoDB-backed session.Store. Build the low-level
// client via features/session/mongo/clients/mongo and pass it to NewStore so
// session lifecycles and halt reasons survive the process.
package mongo
