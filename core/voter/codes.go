package voter

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Alphabets exclude visually ambiguous characters (I, O, 0, 1, L).
const (
	codeLetters = "ABCDEFGHKMNPQRSTUVWX"
	codeDigits  = "23456789"

	enrollmentCodeLen = 5 + 4 + 5
)

var errSampleExhausted = errors.New("requested amount exceeds the configured voter number range")

// CodeGen draws enrollment codes, passwords and voter numbers from a local
// random source so the whole component stays deterministic under seeded tests.
type CodeGen struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewCodeGen(src rand.Source) *CodeGen {
	return &CodeGen{rng: rand.New(src)}
}

func (g *CodeGen) randString(n int, alphabet string) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[g.rng.Intn(len(alphabet))])
	}
	return b.String()
}

// EnrollmentCode returns a fresh code of the canonical LLLLL-NNNN-lllll form.
// Uniqueness is not checked here; collisions surface at the persistence layer.
func (g *CodeGen) EnrollmentCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	first := g.randString(5, codeLetters)
	second := g.randString(4, codeDigits)
	third := strings.ToLower(g.randString(5, codeLetters))
	return first + "-" + second + "-" + third
}

// Password returns a fresh credential of the LLLL-NNN-llll form.
func (g *CodeGen) Password() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	first := g.randString(4, codeLetters)
	second := g.randString(3, codeDigits)
	third := strings.ToLower(g.randString(4, codeLetters))
	return first + "-" + second + "-" + third
}

// SampleNumbers draws `amount` distinct numbers from [start, end) without
// replacement.
func (g *CodeGen) SampleNumbers(start, end, amount int) ([]int, error) {
	if amount > end-start {
		return nil, errSampleExhausted
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	perm := g.rng.Perm(end - start)[:amount]
	nums := make([]int, amount)
	for i, p := range perm {
		nums[i] = start + p
	}
	return nums, nil
}

// StripCode removes hyphens and whitespace from a user-supplied code.
func StripCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, code)
}

// NormalizeCode reinserts hyphens into the canonical 5-4-5 grouping and
// restores the case convention per group. Input that does not match the
// canonical length is returned stripped, as-is.
func NormalizeCode(code string) string {
	s := StripCode(code)
	if len(s) != enrollmentCodeLen {
		return s
	}
	return strings.ToUpper(s[:5]) + "-" + s[5:9] + "-" + strings.ToLower(s[9:])
}
