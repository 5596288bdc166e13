package pagedb

func Set(b, flag uint8) uint8 { return b | flag }
func Has(b, flag uint8) bool  { return b&flag != 0 }

// bitmapLen is the number of bytes needed for a null bitmap over n attributes.
func bitmapLen(n int) int { return (n + 7) / 8 }

// bit i of a bitmap lives in byte i/8, counted from the most significant bit.
func bitMask(i int) uint8 { return 0x80 >> uint(i%8) }

func setBit(bitmap []byte, i int)      { bitmap[i/8] = Set(bitmap[i/8], bitMask(i)) }
func hasBit(bitmap []byte, i int) bool { return Has(bitmap[i/8], bitMask(i)) }
