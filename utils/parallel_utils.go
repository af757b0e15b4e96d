package utils

// PartitionMap splits the index range [0,MaxIndex) into ParallelDegree
// contiguous buckets whose sizes differ by at most one. Domains use it to
// split grid columns, thread teams to split colours.
type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucket finds the bucket holding index, -1 when out of range
func (pm *PartitionMap) GetBucket(index int) (bucketNum, min, max int) {
	_, bucketNum, min, max = pm.getBucketWithTryCount(index)
	return
}

func (pm *PartitionMap) getBucketWithTryCount(index int) (tryCount, bucketNum, min, max int) {
	if index < 0 || index >= pm.MaxIndex {
		return 0, -1, 0, 0
	}
	// Initial guess
	bucketNum = int(float64(pm.ParallelDegree*index) / float64(pm.MaxIndex))
	for !(pm.Partitions[bucketNum][0] <= index && pm.Partitions[bucketNum][1] > index) {
		if pm.Partitions[bucketNum][0] > index {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			return 0, -1, 0, 0
		}
		tryCount++
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (iMin, iMax int) {
	iMin, iMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

// GetLocalIndex converts a global index into its bucket-local position
func (pm *PartitionMap) GetLocalIndex(global int) (local, width, bn int) {
	var (
		iMin, iMax int
	)
	bn, iMin, iMax = pm.GetBucket(global)
	width = iMax - iMin
	local = global - iMin
	return
}

func (pm *PartitionMap) GetGlobalIndex(local, bn int) (global int) {
	if bn == -1 {
		global = local
		return
	}
	global = pm.Partitions[bn][0] + local
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (width int) {
	if bn == -1 {
		width = pm.MaxIndex
		return
	}
	var (
		i1, i2 = pm.GetBucketRange(bn)
	)
	width = i2 - i1
	return
}

// MinBucketDimension is the width of the narrowest bucket
func (pm *PartitionMap) MinBucketDimension() (width int) {
	width = pm.MaxIndex
	for bn := range pm.Partitions {
		if w := pm.GetBucketDimension(bn); w < width {
			width = w
		}
	}
	return
}

func (pm *PartitionMap) Split1D(bucketNum int) (bucket [2]int) {
	// Split one dimension into ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if bucketNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = bucketNum
			endAdd = 1
		}
	}
	bucket[0] = bucketNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
