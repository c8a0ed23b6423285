package funnel

import "testing"

func strp(s string) *string { return &s }

func eq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func show(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		name string
		text string
		want *string
	}{
		{"local", "رقمي 01012345678", strp("01012345678")},
		{"international", "call +201112345678 please", strp("01112345678")},
		{"no plus", "201212345678", strp("01212345678")},
		{"arabic digits", "٠١٥٥٠٠٠١١١٢", strp("01550001112")},
		{"spaced", "010 1234 5678", strp("01012345678")},
		{"invalid operator", "01312345678", nil},
		{"too long", "010123456789", nil},
		{"no phone", "عايز تيشيرت", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractOrderFields(tc.text).Phone
			if !eq(got, tc.want) {
				t.Fatalf("phone(%q) = %s, want %s", tc.text, show(got), show(tc.want))
			}
		})
	}
}

func TestExtractEmailAndContact(t *testing.T) {
	f := ExtractOrderFields("my mail is Sara.M@Example.com")
	if !eq(f.Email, strp("sara.m@example.com")) {
		t.Fatalf("unexpected email %s", show(f.Email))
	}
	if !eq(f.Contact(), f.Email) {
		t.Fatal("contact should fall back to email")
	}

	f = ExtractOrderFields("01012345678 or a@b.co")
	if !eq(f.Contact(), strp("01012345678")) {
		t.Fatalf("contact should prefer phone, got %s", show(f.Contact()))
	}
}

func TestExtractSize(t *testing.T) {
	cases := []struct {
		text string
		want *string
	}{
		{"مقاس XL لو سمحت", strp("XL")},
		{"size m", nil},
		{"size M", strp("M")},
		{"2xl", strp("XXL")},
		{"3XL please", strp("XXXL")},
		{"xxl", strp("XXL")},
		{"وزني 65 كيلو", strp("M")},
		{"55kg", strp("S")},
		{"١٠٥ كيلو", strp("XXXL")},
		{"I'm fine", nil},
		{"XLarge", nil},
	}
	for _, tc := range cases {
		if got := ExtractOrderFields(tc.text).Size; !eq(got, tc.want) {
			t.Fatalf("size(%q) = %s, want %s", tc.text, show(got), show(tc.want))
		}
	}
}

func TestSizeForWeightBands(t *testing.T) {
	cases := map[int]string{40: "S", 59: "S", 60: "M", 79: "L", 80: "XL", 95: "XXL", 100: "XXXL", 150: "XXXL"}
	for kg, want := range cases {
		if got := SizeForWeight(kg); got != want {
			t.Fatalf("SizeForWeight(%d) = %s, want %s", kg, got, want)
		}
	}
}

func TestExtractColorAndCity(t *testing.T) {
	f := ExtractOrderFields("عايزه الأسود والأبيض والشحن للإسكندرية")
	if !eq(f.Color, strp("أسود")) {
		t.Fatalf("expected first colour, got %s", show(f.Color))
	}
	if f.City != nil {
		t.Fatalf("prefixed city with لل should not match, got %s", show(f.City))
	}

	f = ExtractOrderFields("Black, shipping to Cairo")
	if !eq(f.Color, strp("أسود")) || !eq(f.City, strp("القاهرة")) {
		t.Fatalf("unexpected %s / %s", show(f.Color), show(f.City))
	}

	f = ExtractOrderFields("انا في الاسكندريه")
	if !eq(f.City, strp("الإسكندرية")) {
		t.Fatalf("unexpected city %s", show(f.City))
	}
}

func TestExtractNothing(t *testing.T) {
	f := ExtractOrderFields("")
	if f.Phone != nil || f.Email != nil || f.Size != nil || f.Color != nil || f.City != nil {
		t.Fatalf("expected empty fields, got %+v", f)
	}
}
