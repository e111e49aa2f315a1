package substrate

import "encoding/binary"

const (
	DefaultChildStoragePrefix = ":child_storage:default:"
	crowdloanDomain           = "crowdloan"
)

// ChildStorageKey derives the default child trie namespace of a crowdloan fund:
// ":child_storage:default:" ++ blake2_256("crowdloan" ++ u32le(fundIndex)).
func ChildStorageKey(fundIndex uint32) []byte {
	seed := binary.LittleEndian.AppendUint32([]byte(crowdloanDomain), fundIndex)
	return append([]byte(DefaultChildStoragePrefix), Blake2_256(seed)...)
}

// FundStorageKey is the storage key of Crowdloan.Funds(paraID), a Twox64Concat map entry.
func FundStorageKey(paraID uint32) []byte {
	return StorageMapKey("Crowdloan", "Funds", binary.LittleEndian.AppendUint32(nil, paraID))
}

func StorageMapKey(pallet, item string, encodedKey []byte) []byte {
	key := StoragePrefix(pallet, item)
	return append(key, Twox64Concat(encodedKey)...)
}

func StoragePrefix(pallet, item string) []byte {
	prefix := make([]byte, 0, 32)
	prefix = append(prefix, Twox128([]byte(pallet))...)
	return append(prefix, Twox128([]byte(item))...)
}
