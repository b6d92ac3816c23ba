package edst

import (
	"fmt"
	"math/rand"
	"time"
)

// overflowLetters excludes letters easily confused with digits or other codes
const overflowLetters = "CFNPTVWY"

var (
	primaryCIDs  = buildPrimaryCIDs()
	overflowCIDs = buildOverflowCIDs()
)

func buildPrimaryCIDs() []string {
	cids := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		cids = append(cids, fmt.Sprintf("%03d", i))
	}
	return cids
}

func buildOverflowCIDs() []string {
	cids := make([]string, 0, 100*len(overflowLetters))
	for i := 0; i < 100; i++ {
		for _, c := range overflowLetters {
			cids = append(cids, fmt.Sprintf("%02d%c", i, c))
		}
	}
	return cids
}

// Allocator hands out CIDs that are unique among the records it was seeded with.
// It is not safe for concurrent use; one pass owns one allocator.
type Allocator struct {
	used map[string]struct{}
	rng  *rand.Rand
}

// NewAllocator creates an allocator that treats every CID in used as taken
func NewAllocator(used []string) *Allocator {
	return NewAllocatorWithSource(used, rand.NewSource(time.Now().UnixNano()))
}

// NewAllocatorWithSource is NewAllocator with a caller supplied random source
func NewAllocatorWithSource(used []string, src rand.Source) *Allocator {
	a := &Allocator{
		used: make(map[string]struct{}, len(used)),
		rng:  rand.New(src),
	}
	for _, cid := range used {
		if cid != "" {
			a.used[cid] = struct{}{}
		}
	}
	return a
}

// Allocate picks a free CID uniformly at random, drawing from the overflow
// pool only once the primary pool is exhausted
func (a *Allocator) Allocate() (string, error) {
	for _, pool := range [][]string{primaryCIDs, overflowCIDs} {
		candidates := a.free(pool)
		if len(candidates) == 0 {
			continue
		}
		cid := candidates[a.rng.Intn(len(candidates))]
		a.used[cid] = struct{}{}
		return cid, nil
	}
	return "", ErrAllocationExhausted
}

// Release returns a CID to the pool
func (a *Allocator) Release(cid string) {
	delete(a.used, cid)
}

// Reserve marks cid as taken
func (a *Allocator) Reserve(cid string) {
	if cid != "" {
		a.used[cid] = struct{}{}
	}
}

// InUse reports whether cid is taken
func (a *Allocator) InUse(cid string) bool {
	_, ok := a.used[cid]
	return ok
}

// Used returns the number of taken CIDs
func (a *Allocator) Used() int {
	return len(a.used)
}

func (a *Allocator) free(pool []string) []string {
	candidates := make([]string, 0, len(pool))
	for _, cid := range pool {
		if _, taken := a.used[cid]; !taken {
			candidates = append(candidates, cid)
		}
	}
	return candidates
}
