package protocol

// Keys encode their owning partition in the upper bits so any key can be
// routed without a lookup.
const (
	keyPartitionBits = 51
	keyCounterMask   = int64(1)<<keyPartitionBits - 1
)

// EncodeKey builds a partition-scoped key from a local counter value.
func EncodeKey(partitionID int, counter int64) int64 {
	return int64(partitionID)<<keyPartitionBits | (counter & keyCounterMask)
}

// DecodePartitionID returns the partition that owns key.
func DecodePartitionID(key int64) int {
	return int(key >> keyPartitionBits)
}

// DecodeKeyCounter returns the partition-local counter of key.
func DecodeKeyCounter(key int64) int64 {
	return key & keyCounterMask
}
