// Package mongo provides a MongoDB-backed session journal.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a runlog.Store. Each journaled batch is one document; replay reads
// them back in insertion order.
package mongo
