package activity

// Plural selects one of three Russian plural stems for n, per the standard
// Slavic pluralization rule: "one" for n≡1 mod 10 except n≡11 mod 100,
// "few" for n≡2..4 mod 10 except n≡12..14 mod 100, "many" otherwise.
func Plural(n int, one, few, many string) string {
	mod10 := n % 10
	mod100 := n % 100

	if mod10 == 1 && mod100 != 11 {
		return one
	}
	if mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14) {
		return few
	}
	return many
}
