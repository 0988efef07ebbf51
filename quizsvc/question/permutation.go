// Package question derives each user's deterministic per-day question and
// option ordering, and serves the currently-live question slot.
package question

import (
	"hash/fnv"

	"github.com/dailyquiz/quizsvc/store"
)

// DerivePermutation returns a deterministic permutation of [0, store.QuestionCount)
// seeded by (userID, date), so the same user always sees the same question
// order for a given day, but two different users almost never see the same
// order — making wholesale answer-sharing between participants far less
// useful without the server ever storing a per-user shuffle table.
func DerivePermutation(userID, date string) [store.QuestionCount]int {
	var perm [store.QuestionCount]int
	for i := range perm {
		perm[i] = i
	}
	seed := seedFor(userID, date, "question")
	fisherYates(perm[:], seed)
	return perm
}

// DeriveOptionPermutation returns, for every slot, a permutation of {0,1,2,3}
// mapping displayed position to original option index, seeded independently
// of the question order so the two permutations don't leak into each other.
func DeriveOptionPermutation(userID, date string) [store.QuestionCount][4]int {
	var out [store.QuestionCount][4]int
	for slot := range out {
		perm := [4]int{0, 1, 2, 3}
		seed := seedFor(userID, date, "option") + uint64(slot)
		fisherYates(perm[:], seed)
		out[slot] = perm
	}
	return out
}

func seedFor(userID, date, salt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(date))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(salt))
	return h.Sum64()
}

// splitMix64 is a fast, deterministic PRNG step — no math/rand dependency,
// so the sequence is fixed across Go versions and reproducible in tests
// without a seeded *rand.Rand instance leaking global state.
func splitMix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func fisherYates(s []int, seed uint64) {
	state := seed
	for i := len(s) - 1; i > 0; i-- {
		r := splitMix64(&state)
		j := int(r % uint64(i+1))
		s[i], s[j] = s[j], s[i]
	}
}
