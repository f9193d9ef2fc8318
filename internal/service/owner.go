package service

import (
	"hash/fnv"
	"sync"
)

const ownerShards = 64

// ownerSet serializes all operations against one aggregate identifier. It
// stands in for single-owner aggregate hosting: two operations on the same
// id never run concurrently, while distinct ids proceed in parallel (modulo
// shard collisions).
type ownerSet struct {
	shards [ownerShards]sync.Mutex
}

func newOwnerSet() *ownerSet {
	return &ownerSet{}
}

// Lock acquires the owner lock for an aggregate id and returns the unlock.
func (o *ownerSet) Lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	shard := &o.shards[h.Sum32()%ownerShards]
	shard.Lock()
	return shard.Unlock
}
