// Package source provides KVSource implementations backed by Consul's KV store and by Redis.
package source
