package xtaf

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dsoprea/go-logging"
)

const (
	// Only the low 28 bits of a link are significant.
	fatLinkMask = 0x0fffffff

	linearVisitLimit = 64
)

// MappedCluster represents one cluster entry in the FAT.
type MappedCluster uint32

// IsLast indicates that no more clusters follow the cluster that led to this
// entry.
func (mc MappedCluster) IsLast() bool {
	return mc&fatLinkMask == fatLinkMask
}

// IsFree indicates an unallocated cluster. Seen mid-chain, it means the chain
// is broken (typically a deleted file whose links were cleared).
func (mc MappedCluster) IsFree() bool {
	return mc&fatLinkMask == 0
}

// Next returns the cluster that this link points to.
func (mc MappedCluster) Next() uint32 {
	return uint32(mc & fatLinkMask)
}

// Fat is the collection of all FAT entries.
type Fat []MappedCluster

func parseFat(raw []byte) Fat {
	count := len(raw) / fatEntrySize

	fat := make(Fat, count)
	for i := 0; i < count; i++ {
		fat[i] = MappedCluster(defaultEncoding.Uint32(raw[i*fatEntrySize:]))
	}

	return fat
}

// ChainStatus describes how chain resolution ended.
type ChainStatus int

const (
	// ChainComplete means that the terminator was reached (or there was no
	// data).
	ChainComplete ChainStatus = iota

	// ChainAborted means that an unallocated (0) link was found mid-chain.
	ChainAborted

	// ChainTruncated means that a cluster's FAT entry lies outside of the
	// loaded FAT.
	ChainTruncated

	// ChainCyclic means that a cluster was revisited or the chain was longer
	// than the FAT.
	ChainCyclic
)

func (cs ChainStatus) String() string {
	switch cs {
	case ChainComplete:
		return "complete"
	case ChainAborted:
		return "aborted"
	case ChainTruncated:
		return "truncated"
	case ChainCyclic:
		return "cyclic"
	}

	return fmt.Sprintf("unknown(%d)", int(cs))
}

// ClusterChain is the ordered list of clusters belonging to one file or
// directory.
type ClusterChain struct {
	Clusters []uint32
	Status   ChainStatus

	// LastCluster is the cluster whose link ended the chain abnormally.
	LastCluster uint32
	LastLink    MappedCluster
}

// IsComplete indicates that the chain ended at its terminator.
func (cc ClusterChain) IsComplete() bool {
	return cc.Status == ChainComplete
}

// Len returns the number of clusters in the chain.
func (cc ClusterChain) Len() int {
	return len(cc.Clusters)
}

// Err describes why the chain did not end normally, or returns nil.
func (cc ClusterChain) Err() error {
	switch cc.Status {
	case ChainComplete:
		return nil
	case ChainAborted:
		return fmt.Errorf("%w: cluster (%d) links to unallocated cluster (0) after (%d) clusters", ErrAbortedChain, cc.LastCluster, len(cc.Clusters))
	case ChainTruncated:
		return fmt.Errorf("%w: FAT entry for cluster (%d) is outside of the loaded FAT", ErrAbortedChain, cc.LastCluster)
	case ChainCyclic:
		return fmt.Errorf("%w: cluster (%d) links back into its own chain (0x%08x)", ErrAbortedChain, cc.LastCluster, uint32(cc.LastLink))
	}

	log.Panicf("chain status not valid: (%d)", cc.Status)
	return nil
}

func (cc ClusterChain) String() string {
	return fmt.Sprintf("ClusterChain<COUNT=(%d) STATUS=[%s]>", len(cc.Clusters), cc.Status)
}

// ResolveChain follows the FAT from the given starting cluster. It always
// terminates: the number of steps can never exceed the number of FAT entries
// and a revisited cluster ends the chain. Problems are logged and reflected in
// the returned chain's status rather than returned as errors, so that a single
// broken chain doesn't stop the scan of its siblings.
func (xr *XtafReader) ResolveChain(startingClusterNumber uint32) (cc ClusterChain) {
	cc.Clusters = make([]uint32, 0)

	if startingClusterNumber == 0 {
		return cc
	}

	fatLength := uint32(len(xr.fat))

	// Most chains are short, so only pay for a bitmap over the whole FAT once
	// a chain gets long.
	var visited bitmap.Bitmap

	isVisited := func(clusterNumber uint32) bool {
		if visited != nil {
			// A link past the FAT can't have been visited. The chain is
			// truncated there on the next step.
			if clusterNumber >= fatLength {
				return false
			}

			return visited.Get(int(clusterNumber))
		}

		for _, c := range cc.Clusters {
			if c == clusterNumber {
				return true
			}
		}

		return false
	}

	markVisited := func(clusterNumber uint32) {
		if visited == nil && len(cc.Clusters) > linearVisitLimit {
			visited = bitmap.New(int(fatLength))

			for _, c := range cc.Clusters {
				if c < fatLength {
					visited.Set(int(c), true)
				}
			}
		} else if visited != nil && clusterNumber < fatLength {
			visited.Set(int(clusterNumber), true)
		}
	}

	cc.Clusters = append(cc.Clusters, startingClusterNumber)

	current := startingClusterNumber
	for steps := uint32(0); ; steps++ {
		if current >= fatLength {
			cc.Status = ChainTruncated
			cc.LastCluster = current

			xtafLogger.Warningf(nil, "FAT offset (0x%x) for cluster (%d) is past the loaded FAT (0x%x).", uint64(current)*fatEntrySize, current, uint64(fatLength)*fatEntrySize)
			break
		}

		if steps >= fatLength {
			cc.Status = ChainCyclic
			cc.LastCluster = current

			xtafLogger.Warningf(nil, "Chain from cluster (%d) exceeds the FAT entry-count (%d).", startingClusterNumber, fatLength)
			break
		}

		link := xr.fat[current]
		if link.IsLast() == true {
			break
		} else if link.IsFree() == true {
			cc.Status = ChainAborted
			cc.LastCluster = current
			cc.LastLink = link

			xtafLogger.Warningf(nil, "Chain from cluster (%d) hits unallocated cluster after cluster (%d).", startingClusterNumber, current)
			break
		}

		next := link.Next()
		if isVisited(next) == true {
			cc.Status = ChainCyclic
			cc.LastCluster = current
			cc.LastLink = link

			xtafLogger.Warningf(nil, "Chain from cluster (%d) loops at cluster (%d) -> (%d).", startingClusterNumber, current, next)
			break
		}

		cc.Clusters = append(cc.Clusters, next)
		markVisited(next)

		current = next
	}

	return cc
}
