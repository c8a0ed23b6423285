package funnel

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/capitalize-ai/messenger-pipeline/internal/catalog"
)

// OrderFields holds the first match per field found in a message. A nil
// field was not present.
type OrderFields struct {
	Phone *string
	Email *string
	Size  *string
	Color *string
	City  *string
}

// Contact returns the phone, falling back to the email.
func (f OrderFields) Contact() *string {
	if f.Phone != nil {
		return f.Phone
	}
	return f.Email
}

// Sizes is the size enumeration, smallest first.
var Sizes = []string{"S", "M", "L", "XL", "XXL", "XXXL"}

// WeightBand maps body weights below MaxKg to a size.
type WeightBand struct {
	MaxKg int
	Size  string
}

// WeightBands are checked in order; weights at or above the last band get XXXL.
var WeightBands = []WeightBand{
	{MaxKg: 60, Size: "S"},
	{MaxKg: 70, Size: "M"},
	{MaxKg: 80, Size: "L"},
	{MaxKg: 90, Size: "XL"},
	{MaxKg: 100, Size: "XXL"},
}

var (
	phoneRe  = regexp.MustCompile(`(?:^|\D)((?:\+?20|0)1[0125]\d{8})(?:\D|$)`)
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	sizeRe   = regexp.MustCompile(`(?:^|[^A-Za-z])((?i:[23]xl|x{1,3}l)|S|M|L)(?:[^A-Za-z']|$)`)
	weightRe = regexp.MustCompile(`(?i)(\d{2,3})\s*(?:kg|kilo|كيلو|كجم)`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

var colors = map[string]string{
	"اسود": "أسود", "black": "أسود",
	"ابيض": "أبيض", "white": "أبيض",
	"احمر": "أحمر", "red": "أحمر",
	"ازرق": "أزرق", "blue": "أزرق",
	"اخضر": "أخضر", "green": "أخضر",
	"رمادي": "رمادي", "gray": "رمادي", "grey": "رمادي",
	"بيج": "بيج", "beige": "بيج",
	"كحلي": "كحلي", "navy": "كحلي",
	"بني": "بني", "brown": "بني",
	"بينك": "بينك", "وردي": "بينك", "pink": "بينك",
	"اصفر": "أصفر", "yellow": "أصفر",
	"زيتي": "زيتي", "olive": "زيتي",
}

var cities = map[string]string{
	"قاهره": "القاهرة", "cairo": "القاهرة",
	"جيزه": "الجيزة", "giza": "الجيزة",
	"اسكندريه": "الإسكندرية", "alexandria": "الإسكندرية", "alex": "الإسكندرية",
	"منصوره": "المنصورة", "mansoura": "المنصورة",
	"طنطا": "طنطا", "tanta": "طنطا",
	"زقازيق": "الزقازيق", "zagazig": "الزقازيق",
	"اسماعيليه": "الإسماعيلية", "ismailia": "الإسماعيلية",
	"سويس": "السويس", "suez": "السويس",
	"بورسعيد": "بورسعيد", "portsaid": "بورسعيد",
	"دمياط": "دمياط", "damietta": "دمياط",
	"فيوم": "الفيوم", "fayoum": "الفيوم",
	"منيا": "المنيا", "minya": "المنيا",
	"اسيوط": "أسيوط", "asyut": "أسيوط",
	"سوهاج": "سوهاج", "sohag": "سوهاج",
	"اقصر": "الأقصر", "luxor": "الأقصر",
	"اسوان": "أسوان", "aswan": "أسوان",
	"غردقه": "الغردقة", "hurghada": "الغردقة",
}

// ExtractOrderFields scans free text for order details. It never fails;
// absent fields are nil.
func ExtractOrderFields(text string) OrderFields {
	text = NormalizeDigits(text)

	var f OrderFields
	f.Phone = extractPhone(text)
	if m := emailRe.FindString(text); m != "" {
		email := strings.ToLower(m)
		f.Email = &email
	}
	f.Size = extractSize(text)

	for _, word := range words(text) {
		if f.Color == nil {
			if c, ok := colors[word]; ok {
				c := c
				f.Color = &c
			}
		}
		if f.City == nil {
			if c, ok := cities[word]; ok {
				c := c
				f.City = &c
			}
		}
	}
	return f
}

func extractPhone(text string) *string {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		m = phoneRe.FindStringSubmatch(phoneSeparators.Replace(text))
	}
	if m == nil {
		return nil
	}
	digits := strings.TrimPrefix(m[1], "+")
	phone := "0" + digits[len(digits)-10:]
	return &phone
}

func extractSize(text string) *string {
	if m := sizeRe.FindStringSubmatch(text); m != nil {
		size := strings.ToUpper(m[1])
		switch size {
		case "2XL":
			size = "XXL"
		case "3XL":
			size = "XXXL"
		}
		return &size
	}
	if m := weightRe.FindStringSubmatch(text); m != nil {
		kg, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		size := SizeForWeight(kg)
		return &size
	}
	return nil
}

// SizeForWeight maps a body weight in kg through WeightBands.
func SizeForWeight(kg int) string {
	for _, band := range WeightBands {
		if kg < band.MaxKg {
			return band.Size
		}
	}
	return Sizes[len(Sizes)-1]
}

// NormalizeDigits converts Arabic-Indic and Persian digits to ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}

// words splits text into folded tokens with the Arabic definite article removed.
func words(text string) []string {
	fields := strings.FieldsFunc(catalog.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if strings.HasPrefix(w, "ال") && len([]rune(w)) > 3 {
			w = strings.TrimPrefix(w, "ال")
		}
		out = append(out, w)
	}
	return out
}
