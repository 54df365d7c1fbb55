package common

import "hash/fnv"

func Hash32(data []byte) uint32 {
	h := fnv.New32a()

	h.Write(data)

	return h.Sum32()
}

// Fingerprint hashes a list of string parts into a single 32bit value. Parts
// are separated so that ("ab","c") and ("a","bc") do not collide.
func Fingerprint(parts ...string) uint32 {
	h := fnv.New32a()

	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	return h.Sum32()
}
