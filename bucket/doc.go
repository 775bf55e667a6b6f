// Package bucket partitions the job keyspace into a fixed number of
// buckets and manages this node's leases on them.
//
// A job or workflow lands in bucket [Of](id, count). Each node runs one
// [Manager] that claims up to its fair share of free buckets
// (ceil(count / live nodes)), renews held leases every renew interval and
// releases surplus buckets when nodes join.
//
// Renewal of one bucket never delays another: buckets renew in parallel,
// each with a few jittered retries. A bucket whose renewal keeps failing
// is treated as voluntarily released; listeners get a lost event for that
// bucket only and ownership migrates to whichever node claims it next.
// Newly claimed buckets produce an acquired event, after which the
// scheduling actor reloads the bucket's runs before dispatching.
package bucket
