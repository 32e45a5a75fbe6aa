/*
Package types defines the data-model value types shared across the data
plane (§3): object headers and selectors, the three object kinds (FILE,
DATA, STORAGE), tags and tag updates, and the authenticated Principal
attached to a request.

# Object identity

Every committed object version is named by an ObjectHeader
(tenant/type/id/version/tag_version). A Selector names either an
explicit (id, version, tag) coordinate or asks the catalogue to resolve
the current head version or head tag of an object:

	types.ExplicitSelector(id, 3, 1)
	types.LatestVersionSelector(id)
	types.LatestTagSelector(id, 3)

# Object kinds

FileDefinition describes one version of an opaque file (name, mime
type, size, the data item backing its bytes). DataDefinition describes
one version of a tabular dataset: a schema, a map of partition key to
Part, and a row count. Part holds a partition's Current Snap, itself an
ordered sequence of Deltas — only delta_index 0 is ever produced by
this core (§3). StorageDefinition maps every data item produced for an
object to its physical history of Incarnations and Copies, the record
consulted by guard.CheckSupersession before a concurrent write lands.

# Tags and requests

A Tag bundles a header with whichever definition its object kind
carries plus an attribute bag; TagUpdate describes one attribute
mutation (CREATE/REPLACE/APPEND/CLEAR/DELETE). pkg/dataplane threads a
request's accumulated state as local variables in its own per-operation
request/result types rather than a shared package-level value (§9).
*/
package types
