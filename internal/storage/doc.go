// Package storage provides the node-local bucket/object store. Buckets are
// namespaces; each object holds a value and a node-local version counter.
// Three backends implement Store: plain files (one directory per bucket, one
// JSON file per object), Badger, and an in-memory map.
package storage
