package pipeline

// PassSeeds holds the derived seed for every pass of the refinement pipeline.
type PassSeeds struct {
	Pass1  int64
	Pass2  int64
	Pass3  int64
	Pass4A int64
	Pass4B int64
	Pass5A int64
	Pass5B int64
	Pass7  int64
}

// Fixed offsets from the base seed. Each pass gets a distinct-but-reproducible
// seed; 4B and 5B share +100 so the secondary-character passes stay correlated.
const (
	seedOffsetPass1     = 0
	seedOffsetPass2     = 1
	seedOffsetPass3     = 2
	seedOffsetPass4A    = 3
	seedOffsetPass5A    = 4
	seedOffsetPass7     = 10
	seedOffsetSecondary = 100
)

// DeriveSeeds expands one base seed into the per-pass seed sequence.
func DeriveSeeds(base int64) PassSeeds {
	return PassSeeds{
		Pass1:  base + seedOffsetPass1,
		Pass2:  base + seedOffsetPass2,
		Pass3:  base + seedOffsetPass3,
		Pass4A: base + seedOffsetPass4A,
		Pass4B: base + seedOffsetSecondary,
		Pass5A: base + seedOffsetPass5A,
		Pass5B: base + seedOffsetSecondary,
		Pass7:  base + seedOffsetPass7,
	}
}
