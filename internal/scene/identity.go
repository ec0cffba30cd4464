package scene

// PlayerID derives the short numeric player id from a raw identity token.
// The wire identity packs the stable player id into the middle bits of an
// unsigned 64-bit value; the low 16 bits are a per-connection salt.
func PlayerID(raw uint64) int64 {
	return int64((raw >> 16) & 0xFFFFFFFF)
}
