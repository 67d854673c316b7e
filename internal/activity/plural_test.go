package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlural_One(t *testing.T) {
	assert.Equal(t, "элемент", Plural(1, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элемент", Plural(21, "элемент", "элемента", "элементов"))
}

func TestPlural_Few(t *testing.T) {
	assert.Equal(t, "элемента", Plural(2, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элемента", Plural(3, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элемента", Plural(4, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элемента", Plural(24, "элемент", "элемента", "элементов"))
}

func TestPlural_Many(t *testing.T) {
	assert.Equal(t, "элементов", Plural(5, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элементов", Plural(11, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элементов", Plural(12, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элементов", Plural(13, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элементов", Plural(14, "элемент", "элемента", "элементов"))
	assert.Equal(t, "элементов", Plural(0, "элемент", "элемента", "элементов"))
}

func TestPlural_ExhaustiveAgainstRule(t *testing.T) {
	for n := 0; n < 200; n++ {
		got := Plural(n, "one", "few", "many")
		mod10, mod100 := n%10, n%100
		var want string
		switch {
		case mod10 == 1 && mod100 != 11:
			want = "one"
		case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
			want = "few"
		default:
			want = "many"
		}
		assert.Equal(t, want, got, "n=%d", n)
	}
}
