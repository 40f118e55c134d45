// Package mongo wires store.AuditRepository, and a standalone migration-plan
// archive, to MongoDB, the durable multi-instance counterpart to
// store/inmem's process-local maps. It follows the retrieval pack's
// features/*/mongo layering: a thin Store (this package) delegates to a
// lower-level clients/mongo.Client that owns the real *mongo.Collection
// handles and BSON document shapes.
package mongo
