package voter

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	codeRegex = regexp.MustCompile(`^[A-HKMNP-X]{5}-[2-9]{4}-[a-hkmnp-x]{5}$`)
	pwdRegex  = regexp.MustCompile(`^[A-HKMNP-X]{4}-[2-9]{3}-[a-hkmnp-x]{4}$`)
)

func TestCodeGen_EnrollmentCode(t *testing.T) {
	g := NewCodeGen(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		code := g.EnrollmentCode()
		assert.Regexp(t, codeRegex, code)
		for _, amb := range "IO01L" {
			assert.NotContains(t, strings.ToUpper(code), string(amb))
		}
	}
}

func TestCodeGen_Password(t *testing.T) {
	g := NewCodeGen(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		assert.Regexp(t, pwdRegex, g.Password())
	}
}

func TestCodeGen_SampleNumbers(t *testing.T) {
	g := NewCodeGen(rand.NewSource(42))

	t.Run("distinct within range", func(t *testing.T) {
		nums, err := g.SampleNumbers(100, 1000, 50)
		assert.NoError(t, err)
		assert.Len(t, nums, 50)

		seen := make(map[int]bool, len(nums))
		for _, n := range nums {
			assert.GreaterOrEqual(t, n, 100)
			assert.Less(t, n, 1000)
			assert.False(t, seen[n], "number %d drawn twice", n)
			seen[n] = true
		}
	})

	t.Run("whole range", func(t *testing.T) {
		nums, err := g.SampleNumbers(100, 110, 10)
		assert.NoError(t, err)
		assert.Len(t, nums, 10)
	})

	t.Run("exhausted", func(t *testing.T) {
		_, err := g.SampleNumbers(100, 110, 11)
		assert.Equal(t, errSampleExhausted, err)
	})
}

func TestStripCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"canonical", "ABCDE-2345-fghkm", "ABCDE2345fghkm"},
		{"spaces and tabs", " ABCDE 2345\tfghkm ", "ABCDE2345fghkm"},
		{"already stripped", "ABCDE2345fghkm", "ABCDE2345fghkm"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCode(tt.in))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"canonical", "ABCDE-2345-fghkm", "ABCDE-2345-fghkm"},
		{"stripped input", "ABCDE2345fghkm", "ABCDE-2345-fghkm"},
		{"wrong case", "abcde-2345-FGHKM", "ABCDE-2345-fghkm"},
		{"extra separators", "AB CDE-2345 - fgh km", "ABCDE-2345-fghkm"},
		{"wrong length passes through stripped", "ABC-123", "ABC123"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.in))
		})
	}
}
