package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 3, EditDistance("kitten", "sitting"))
	assert.Equal(t, 0, EditDistance("same", "same"))
	assert.Equal(t, 5, EditDistance("", "hello"))
	assert.Equal(t, 4, EditDistance("abcd", ""))
	assert.Equal(t, 1, EditDistance("smith", "smyth"))
}

func TestPhoneticCode(t *testing.T) {
	assert.Equal(t, "R163", PhoneticCode("Robert"))
	assert.Equal(t, PhoneticCode("Robert"), PhoneticCode("Rupert"))
	assert.Equal(t, "", PhoneticCode(""))
	assert.Equal(t, "S530", PhoneticCode("Smith"))
	assert.Equal(t, PhoneticCode("Smith"), PhoneticCode("Smyth"))
	assert.Len(t, PhoneticCode("X"), 4)
}

func TestHashDeterministic(t *testing.T) {
	assert.Equal(t, Hash("patient-42"), Hash("patient-42"))
	assert.NotEqual(t, Hash("patient-42"), Hash("patient-43"))
	assert.Len(t, Hash("anything"), 16)
}

func TestNameSimilarity(t *testing.T) {
	t.Run("identical names score 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, NameSimilarity("Johnson", "Johnson"))
		assert.Equal(t, 1.0, NameSimilarity("johnson", "JOHNSON"))
	})

	t.Run("empty side scores 0", func(t *testing.T) {
		assert.Equal(t, 0.0, NameSimilarity("", "anything"))
		assert.Equal(t, 0.0, NameSimilarity("anything", ""))
	})

	t.Run("close names score high", func(t *testing.T) {
		s := NameSimilarity("Catherine", "Katherine")
		assert.Greater(t, s, 0.45)
		assert.LessOrEqual(t, s, 1.0)

		// Same phonetic code earns the bonus on top of the string terms.
		assert.Greater(t, NameSimilarity("Smith", "Smyth"), 0.65)
	})

	t.Run("unrelated names score low", func(t *testing.T) {
		assert.Less(t, NameSimilarity("Johnson", "Zhang"), 0.4)
	})

	t.Run("result stays in range", func(t *testing.T) {
		pairs := [][2]string{
			{"Lee", "Leigh"}, {"Ann", "Anne"}, {"O'Brien", "OBrien"},
		}
		for _, p := range pairs {
			s := NameSimilarity(p[0], p[1])
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	})
}

func TestTrigramOverlap(t *testing.T) {
	assert.Equal(t, 1.0, TrigramOverlap("abc", "abc"))
	assert.Greater(t, TrigramOverlap("martinez", "martines"), 0.5)
	assert.Less(t, TrigramOverlap("abc", "xyz"), 0.2)
}
