package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

// Digest hashes the full state in a canonical order. Two states with equal
// digests encode identically.
func (s *State) Digest() string {
	h := sha256.New()
	digestWriteU64(h, s.Epoch)
	digestWriteU64(h, uint64(s.Grid.Width))
	digestWriteU64(h, uint64(s.Grid.Height))
	for _, c := range s.Grid.Cells {
		digestWriteU64(h, uint64(c.Terrain))
		digestWriteI64(h, int64(c.Food))
		digestWriteI64(h, int64(c.Capacity))
		digestWriteU64(h, uint64(len(c.Occupants)))
		for _, id := range c.Occupants {
			digestWriteString(h, id)
		}
	}

	for _, a := range s.Agents.All() {
		digestWriteString(h, a.ID)
		digestWriteString(h, a.Name)
		t := a.Identity.Traits
		for _, v := range []float64{t.Openness, t.Conscientiousness, t.Extraversion, t.Agreeableness, t.Neuroticism} {
			digestWriteF64(h, v)
		}
		digestWriteU64(h, uint64(len(a.Identity.Values)))
		for _, v := range a.Identity.Values {
			digestWriteString(h, v)
		}
		digestWriteString(h, a.Identity.Aspiration)

		digestWriteI64(h, int64(a.Pos.X))
		digestWriteI64(h, int64(a.Pos.Y))
		for _, v := range []float64{a.Health, a.Hunger, a.Energy, a.Strength} {
			digestWriteF64(h, v)
		}
		digestWriteI64(h, int64(a.Food))
		digestWriteBool(h, a.Alive)
		digestWriteU64(h, a.DiedEpoch)
		digestWriteString(h, a.DeathCause)

		b := a.Beliefs
		digestWriteF64(h, b.Self.Safety)
		digestWriteF64(h, b.Self.Competence)
		ids := b.SocialIDs()
		digestWriteU64(h, uint64(len(ids)))
		for _, id := range ids {
			sb := b.Social[id]
			digestWriteString(h, id)
			digestWriteF64(h, sb.Trust)
			digestWriteF64(h, sb.Sentiment)
			digestWriteString(h, sb.Summary)
			digestWriteI64(h, int64(sb.Interactions))
			digestWriteU64(h, sb.LastEpoch)
		}
		keys := b.WorldKeys()
		digestWriteU64(h, uint64(len(keys)))
		for _, k := range keys {
			cb := b.World[k]
			digestWriteString(h, k)
			digestWriteU64(h, uint64(cb.Terrain))
			digestWriteI64(h, int64(cb.Food))
			digestWriteU64(h, cb.SeenEpoch)
		}

		digestWriteU64(h, uint64(len(a.Memory)))
		for _, ep := range a.Memory {
			digestWriteU64(h, ep.Epoch)
			digestWriteString(h, ep.Other)
			digestWriteString(h, ep.Kind)
			digestWriteU64(h, uint64(ep.Role))
			digestWriteF64(h, ep.Trust)
			digestWriteF64(h, ep.Sentiment)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func digestWriteI64(h hash.Hash, v int64) { digestWriteU64(h, uint64(v)) }

func digestWriteF64(h hash.Hash, v float64) { digestWriteU64(h, math.Float64bits(v)) }

func digestWriteBool(h hash.Hash, v bool) {
	if v {
		digestWriteU64(h, 1)
		return
	}
	digestWriteU64(h, 0)
}

func digestWriteString(h hash.Hash, s string) {
	digestWriteU64(h, uint64(len(s)))
	h.Write([]byte(s))
}
