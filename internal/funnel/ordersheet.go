package funnel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/capitalize-ai/messenger-pipeline/internal/catalog"
	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

const (
	placeholder = "-"
	unknown     = "غير محدد"
)

// RenderOrderSheet renders the order summary sent when the funnel completes.
// Unknown fields render as "-"; the total is only computed when both the
// product price and the shipping cost are known.
func RenderOrderSheet(tenant catalog.Tenant, sess *model.Session, product *catalog.Product, shippingCost *float64) string {
	productName := sess.Field(model.FieldService)
	var price *float64
	if product != nil {
		productName = product.Name
		price = product.Price
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧾 ملخص الطلب - %s\n", orDash(tenant.Name))
	fmt.Fprintf(&b, "الاسم: %s\n", orDash(sess.Field(model.FieldName)))
	fmt.Fprintf(&b, "التواصل: %s\n", orDash(sess.Field(model.FieldContact)))
	fmt.Fprintf(&b, "المنتج: %s\n", orDash(productName))
	fmt.Fprintf(&b, "المقاس: %s\n", orDash(sess.Field(model.FieldSize)))
	fmt.Fprintf(&b, "اللون: %s\n", orDash(sess.Field(model.FieldColor)))
	fmt.Fprintf(&b, "المدينة: %s\n", orDash(sess.Field(model.FieldCity)))
	fmt.Fprintf(&b, "العنوان: %s\n", orDash(sess.Field(model.FieldAddress)))
	fmt.Fprintf(&b, "السعر: %s\n", money(price, tenant.Currency, placeholder))
	fmt.Fprintf(&b, "الشحن: %s\n", money(shippingCost, tenant.Currency, placeholder))

	var total *float64
	if price != nil && shippingCost != nil {
		sum := *price + *shippingCost
		total = &sum
	}
	fmt.Fprintf(&b, "الإجمالي: %s", money(total, tenant.Currency, unknown))

	return b.String()
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}

func money(v *float64, currency, missing string) string {
	if v == nil {
		return missing
	}
	amount := strconv.FormatFloat(*v, 'f', -1, 64)
	if currency == "" {
		return amount
	}
	return amount + " " + currency
}
